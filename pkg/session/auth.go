package session

import (
	"context"
	"log/slog"

	"github.com/odvcencio/playwire/pkg/observability"
	"github.com/odvcencio/playwire/pkg/pw"
)

// AuthReport summarizes credential injection into an attached session.
type AuthReport struct {
	FilesSeen    int `json:"files_seen"`
	FilesLoaded  int `json:"files_loaded"`
	CookiesAdded int `json:"cookies_added"`
}

// injectAuthFiles adds the cookies of each storage state file to bc. Files
// that fail to parse are skipped; a failed AddCookies aborts.
func injectAuthFiles(ctx context.Context, bc *pw.BrowserContext, files []string, logger *observability.Logger) (AuthReport, error) {
	report := AuthReport{FilesSeen: len(files)}
	for _, path := range files {
		state, err := pw.LoadStorageState(path)
		if err != nil {
			logger.Debug("skipping unreadable auth file", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		report.FilesLoaded++
		if len(state.Cookies) == 0 {
			continue
		}
		if err := bc.AddCookies(ctx, state.Cookies); err != nil {
			return report, err
		}
		report.CookiesAdded += len(state.Cookies)
	}
	return report, nil
}

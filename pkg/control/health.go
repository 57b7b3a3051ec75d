package control

import (
	"context"
	"net/http"
)

// HTTPReachability returns a HealthFunc that performs a HEAD request against
// url and succeeds as long as the server responds at all (even 401/404 —
// the probe only asks "is something listening", not "are we authorized").
func HTTPReachability(url string) HealthFunc {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

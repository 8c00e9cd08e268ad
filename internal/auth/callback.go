package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const callbackPage = `<!DOCTYPE html>
<html>
<head><title>Authentication</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h2>Authentication complete</h2>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`

type callbackResult struct {
	code string
	err  error
}

// callbackServer is a loopback HTTP listener that receives exactly one OAuth
// redirect. Whatever the provider sends, the browser gets the same static
// confirmation page; the outcome travels to the waiting login flow through a
// channel.
type callbackServer struct {
	port       int
	path       string
	state      string
	listener   net.Listener
	server     *http.Server
	resultChan chan callbackResult
	errorChan  chan error
}

func newCallbackServer(port int, path, state string) *callbackServer {
	return &callbackServer{
		port:       port,
		path:       path,
		state:      state,
		resultChan: make(chan callbackResult, 1),
		errorChan:  make(chan error, 1),
	}
}

// Start binds the port and begins serving. Binding up front makes a busy
// port fail here rather than after the browser has been opened.
func (s *callbackServer) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("cannot listen on callback port %d: %w", s.port, err)
	}
	s.listener = ln
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)
	s.server = &http.Server{Handler: mux}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errorChan <- err:
			default:
			}
		}
	}()
	return nil
}

// RedirectURI reports the redirect the provider should send the browser to,
// using the actually bound port.
func (s *callbackServer) RedirectURI() string {
	port := s.port
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	return fmt.Sprintf("http://localhost:%d%s", port, s.path)
}

func (s *callbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var res callbackResult
	switch {
	case q.Get("error") != "":
		msg := q.Get("error")
		if desc := q.Get("error_description"); desc != "" {
			msg += ": " + desc
		}
		res.err = &GetAccessTokenError{StatusCode: http.StatusUnauthorized, Message: "authorization was denied: " + msg}
	case q.Get("state") != s.state:
		res.err = &GetAccessTokenError{StatusCode: http.StatusUnauthorized, Message: "state parameter mismatch in OAuth callback"}
	case q.Get("code") == "":
		res.err = &GetAccessTokenError{StatusCode: http.StatusUnauthorized, Message: "OAuth callback carried no authorization code"}
	default:
		res.code = q.Get("code")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, callbackPage)

	// Only the first callback counts; stragglers still get the page.
	select {
	case s.resultChan <- res:
	default:
	}
}

// Wait blocks until the callback arrives, the timeout elapses, ctx is
// canceled, or the listener dies. Failures come back as
// *GetAccessTokenError so the login flow can surface them unchanged.
func (s *callbackServer) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case res := <-s.resultChan:
		if res.err != nil {
			return "", res.err
		}
		return res.code, nil
	case err := <-s.errorChan:
		return "", &GetAccessTokenError{StatusCode: http.StatusInternalServerError, Message: "callback listener failed: " + err.Error()}
	case <-time.After(timeout):
		return "", &GetAccessTokenError{StatusCode: http.StatusRequestTimeout, Message: "timed out waiting for OAuth callback"}
	case <-ctx.Done():
		return "", &GetAccessTokenError{StatusCode: http.StatusRequestTimeout, Message: "login canceled: " + ctx.Err().Error()}
	}
}

// Stop shuts the listener down. Safe on every exit path, including before a
// callback ever arrived.
func (s *callbackServer) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

// Package statusserver exposes the state of the pipeline over HTTP while the scheduler runs.
package statusserver

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/queue"
	"github.com/datapipe-pro/datapipe/internal/runner/runnerpool"
	"github.com/datapipe-pro/datapipe/internal/task"
	"github.com/datapipe-pro/datapipe/pkg/log"
	"github.com/NYTimes/gziphandler"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 10 * time.Second

// Server serves the live task statuses of the current run and the result of the last finished run.
// It implements runnerpool.Observer.
type Server struct {
	*echo.Echo

	logger          log.Logger
	last            *RunView
	current         map[string]string
	addr            string
	shutdownTimeout time.Duration
	mu              sync.RWMutex
}

// Option configures a Server.
type Option func(*Server)

// WithShutdownTimeout bounds the graceful shutdown.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(server *Server) {
		server.shutdownTimeout = timeout
	}
}

// New returns a Server listening on addr once Listen is called.
func New(addr string, l log.Logger, opts ...Option) *Server {
	server := &Server{
		Echo:            echo.New(),
		logger:          l,
		addr:            addr,
		current:         map[string]string{},
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(server)
	}

	server.HideBanner = true
	server.HidePort = true

	server.Use(Logger(l))
	server.Use(Recover(l))

	server.GET("/healthz", server.healthAction)
	server.GET("/runs/current", server.currentAction)
	server.GET("/runs/last", server.lastAction)

	server.Server.Handler = gziphandler.GzipHandler(server.Echo)

	return server
}

// Handler returns the handler served by Run, which compresses large responses.
func (server *Server) Handler() http.Handler {
	return server.Server.Handler
}

// TaskView is the JSON form of a task result.
type TaskView struct {
	Name             string   `json:"name"`
	Status           string   `json:"status"`
	Error            string   `json:"error,omitempty"`
	FailedDependency string   `json:"failed_dependency,omitempty"`
	SkipReason       string   `json:"skip_reason,omitempty"`
	Attempts         []string `json:"attempts,omitempty"`
}

// RunView is the JSON form of a pipeline result.
type RunView struct {
	Started time.Time  `json:"started"`
	Ended   time.Time  `json:"ended"`
	RunID   string     `json:"run_id"`
	Name    string     `json:"name"`
	Status  string     `json:"status"`
	Tasks   []TaskView `json:"tasks"`
}

// NewRunView converts a pipeline result into its JSON form.
func NewRunView(result *runnerpool.Result) *RunView {
	view := &RunView{
		Started: result.Started,
		Ended:   result.Ended,
		RunID:   result.RunID,
		Name:    result.Name,
		Status:  string(result.Status),
		Tasks:   make([]TaskView, 0, len(result.Tasks)),
	}

	for _, taskResult := range result.Tasks {
		taskView := TaskView{
			Name:             taskResult.Name,
			Status:           taskResult.Status.String(),
			FailedDependency: taskResult.FailedDependency,
			SkipReason:       string(taskResult.SkipReason),
		}

		if taskResult.Cause != nil {
			taskView.Error = taskResult.Cause.Error()
		}

		for _, run := range taskResult.Runs {
			taskView.Attempts = append(taskView.Attempts, run.Outcome.String())
		}

		view.Tasks = append(view.Tasks, taskView)
	}

	return view
}

// Record stores the result of a finished run and clears the live statuses.
func (server *Server) Record(result *runnerpool.Result) {
	if result == nil {
		return
	}

	view := NewRunView(result)

	server.mu.Lock()
	defer server.mu.Unlock()

	server.last = view
	server.current = map[string]string{}
}

// TaskStatusChanged implements runnerpool.Observer.
func (server *Server) TaskStatusChanged(name string, _, to queue.Status) {
	server.mu.Lock()
	defer server.mu.Unlock()

	server.current[name] = to.String()
}

// TaskAttemptFinished implements runnerpool.Observer.
func (server *Server) TaskAttemptFinished(task.Run) {}

// Listen opens the listener. Port 0 picks a free port, available through Addr afterwards.
func (server *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", server.addr)
	if err != nil {
		return nil, errors.WithStackTrace(err)
	}

	server.addr = ln.Addr().String()
	server.logger.Infof("Status server is listening on %s", server.addr)

	return ln, nil
}

// Addr returns the listen address.
func (server *Server) Addr() string {
	return server.addr
}

// Run serves on ln until ctx is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context, ln net.Listener) error {
	errGroup, ctx := errgroup.WithContext(ctx)

	errGroup.Go(func() error {
		<-ctx.Done()
		server.logger.Debugf("Shutting down status server")

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.shutdownTimeout)
		defer cancel()

		return errors.WithStackTrace(server.Shutdown(ctx))
	})

	if err := server.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Errorf("error running status server: %w", err)
	}

	return errGroup.Wait()
}

func (server *Server) healthAction(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (server *Server) currentAction(ctx echo.Context) error {
	server.mu.RLock()
	defer server.mu.RUnlock()

	return ctx.JSON(http.StatusOK, server.current)
}

func (server *Server) lastAction(ctx echo.Context) error {
	server.mu.RLock()
	defer server.mu.RUnlock()

	if server.last == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no run has finished yet")
	}

	return ctx.JSON(http.StatusOK, server.last)
}

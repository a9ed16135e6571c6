package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxjot/voxjot/internal/calendar"
	"github.com/voxjot/voxjot/internal/config"
	"github.com/voxjot/voxjot/internal/extract"
	"github.com/voxjot/voxjot/internal/logging"
	"github.com/voxjot/voxjot/internal/pipeline"
	"github.com/voxjot/voxjot/internal/server"
	"github.com/voxjot/voxjot/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the VoxJot processing server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func runServe(cfg *config.Config) error {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	extractor := extract.New(extract.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if cfg.OpenAIAPIKey == "" {
		logging.Warnf("OPENAI_API_KEY not set, every note will fall back to a plain note item")
	}

	var calendarSvc *calendar.Service
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		redirect := cfg.GoogleRedirectURL
		if redirect == "" {
			redirect = "http://" + cfg.ListenAddr + "/api/auth/google/callback"
		}
		calendarSvc = calendar.New(calendar.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  redirect,
		}, st)
	} else {
		logging.Infof("Google OAuth client not configured, calendar sync disabled")
	}

	p := pipeline.New(st, extractor, eventCreatorOrNil(calendarSvc), cfg.Timezone)
	srv := server.New(p, st, calendarSvc, cfg.UserID)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("listening on http://%s (db %s)", cfg.ListenAddr, cfg.DBPath)
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		logging.Infof("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// eventCreatorOrNil keeps a nil *calendar.Service from turning into a
// non-nil interface inside the pipeline.
func eventCreatorOrNil(svc *calendar.Service) pipeline.EventCreator {
	if svc == nil {
		return nil
	}
	return svc
}

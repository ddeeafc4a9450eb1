package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/strikepipe/strikepipe/internal/bridge"
	"github.com/strikepipe/strikepipe/internal/config"
	"github.com/strikepipe/strikepipe/internal/database"
	"github.com/strikepipe/strikepipe/internal/model"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run control API over HTTP",
		Long: `Serve exposes the run lifecycle as a small JSON HTTP API:

  POST /api/runs                start a run
  GET  /api/runs                list recent runs
  GET  /api/runs/:id            query run progress
  POST /api/runs/:id/cancel     request cooperative cancellation
  POST /api/runs/:id/terminate  force-stop a run
  POST /api/runs/:id/resume     resume an interrupted run
  GET  /healthz                 liveness probe

The API binds to loopback by default; it can start and stop assessments, so
exposing it beyond the host is an explicit operator decision.

Examples:
  strikepipe serve
  strikepipe serve --listen 0.0.0.0:8470 --dry-run`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().String("listen", config.DefaultListenAddress,
		"Bind address of the HTTP API")
	cmd.Flags().StringP("agent-command", "a", config.DefaultAgentCommand,
		"Agent-runner binary executed once per phase")
	cmd.Flags().StringArray("agent-arg", nil,
		"Extra argument passed to the agent command (repeatable)")
	cmd.Flags().Bool("dry-run", false,
		"Replace agent execution with simulated results")
	cmd.Flags().String("task-queue", config.DefaultTaskQueue,
		"Logical queue name stamped on runs")
	cmd.Flags().String("db-dir", "",
		"Run database directory (default: XDG data directory)")

	return cmd
}

// runServeCmd executes the serve command.
func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg := config.NewConfig()

	var err error
	cfg.ListenAddress, err = cmd.Flags().GetString("listen")
	if err != nil {
		return err
	}
	cfg.AgentCommand, err = cmd.Flags().GetString("agent-command")
	if err != nil {
		return err
	}
	cfg.AgentArgs, err = cmd.Flags().GetStringArray("agent-arg")
	if err != nil {
		return err
	}
	cfg.DryRun, err = cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}
	cfg.TaskQueue, err = cmd.Flags().GetString("task-queue")
	if err != nil {
		return err
	}
	if err := applyDBDirFlag(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if !cfg.DryRun && cfg.AgentCommand == "" {
		return config.ErrNoAgentCommand
	}

	verbose := getVerboseFlag(cmd)
	logger := setupLogger(verbose)
	slog.SetDefault(logger)

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open run database: %w", err)
	}
	defer db.Close()

	b := bridge.New(db,
		bridge.WithLogger(logger),
		bridge.WithExecutor(buildExecutor(cfg)),
		bridge.WithTaskQueue(cfg.TaskQueue),
	)

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           newServeHandler(b, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serve API listening", "address", cfg.ListenAddress)
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case serveErr := <-errCh:
		return fmt.Errorf("serve API failed: %w", serveErr)
	case <-sigCh:
	}

	logger.Info("shutting down serve API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newServeHandler builds the gin router over the bridge.
func newServeHandler(b *bridge.Bridge, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/runs", func(c *gin.Context) {
		var input model.PipelineInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		runID, err := b.Start(c.Request.Context(), input)
		if err != nil {
			writeAPIError(c, err)
			return
		}
		logger.Info("run started via API", "runId", runID, "webUrl", input.WebURL)
		c.JSON(http.StatusAccepted, gin.H{"runId": runID})
	})

	api.GET("/runs", func(c *gin.Context) {
		limit := config.DefaultListLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit: " + raw})
				return
			}
			limit = parsed
		}

		infos, err := b.List(c.Request.Context(), model.WorkflowStatus(c.Query("status")), limit)
		if err != nil {
			writeAPIError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": infos})
	})

	api.GET("/runs/:id", func(c *gin.Context) {
		progress, err := b.QueryProgress(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeAPIError(c, err)
			return
		}
		c.JSON(http.StatusOK, progress)
	})

	api.POST("/runs/:id/cancel", func(c *gin.Context) {
		if err := b.Cancel(c.Request.Context(), c.Param("id")); err != nil {
			writeAPIError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"runId": c.Param("id")})
	})

	api.POST("/runs/:id/terminate", func(c *gin.Context) {
		var req terminateRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
				return
			}
		}

		if err := b.Terminate(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
			writeAPIError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"runId": c.Param("id")})
	})

	api.POST("/runs/:id/resume", func(c *gin.Context) {
		if err := b.Resume(c.Request.Context(), c.Param("id")); err != nil {
			writeAPIError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"runId": c.Param("id")})
	})

	return router
}

// writeAPIError maps bridge errors onto HTTP status codes.
func writeAPIError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, bridge.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, bridge.ErrRunActive), errors.Is(err, bridge.ErrRunClosed):
		status = http.StatusConflict
	case model.KindOf(err) == model.ErrKindInvalidRequest:
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

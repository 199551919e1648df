// Command mockrates serves a local TWD currency document for offline stress runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/ratestress/internal/mockrates"
)

var rootCmd = &cobra.Command{
	Use:   "mockrates",
	Short: "Serve a local TWD currency-rate document",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		latency, _ := cmd.Flags().GetDuration("latency")
		jitter, _ := cmd.Flags().GetDuration("jitter")
		failRate, _ := cmd.Flags().GetFloat64("fail-rate")
		failStatus, _ := cmd.Flags().GetInt("fail-status")

		handler, err := mockrates.NewHandler(mockrates.Config{
			Latency:    latency,
			Jitter:     jitter,
			FailRate:   failRate,
			FailStatus: failStatus,
		})
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
			ReadHeaderTimeout: 2 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		log.Printf("Serving currency document on http://localhost%s%s", addr, mockrates.DocumentPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().String("addr", ":8080", "Listen address")
	rootCmd.Flags().Duration("latency", 0, "Latency added to every document response")
	rootCmd.Flags().Duration("jitter", 0, "Extra random latency, up to this much")
	rootCmd.Flags().Float64("fail-rate", 0, "Fraction of document requests that fail")
	rootCmd.Flags().Int("fail-status", http.StatusInternalServerError, "Status code of failed responses")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

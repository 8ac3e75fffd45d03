package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/queue"
	"github.com/your-org/attendance/internal/storage"
)

func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	store, err := storage.Open(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// announceRosterChange tells running services to rebuild their snapshot.
// Without NATS they pick the change up when the roster TTL expires.
func (a *app) announceRosterChange() {
	if a.cfg.NATS.URL == "" {
		return
	}
	producer, err := queue.NewProducer(a.cfg.NATS.URL)
	if err != nil {
		slog.Warn("connect to nats", "error", err)
		return
	}
	defer producer.Close()
	if err := producer.PublishRosterChanged(); err != nil {
		slog.Warn("publish roster change", "error", err)
	}
}

func (a *app) identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage enrolled identities",
	}

	var id models.Identity
	var inactive bool
	add := &cobra.Command{
		Use:   "add",
		Short: "Enroll an identity with a reference image",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			id.Active = !inactive
			if err := store.AddIdentity(ctx, &id); err != nil {
				return err
			}
			a.announceRosterChange()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", id.ID, id.Code, id.Name)
			return nil
		},
	}
	add.Flags().StringVar(&id.Code, "code", "", "employee code")
	add.Flags().StringVar(&id.Name, "name", "", "display name")
	add.Flags().StringVar(&id.ReferenceImage, "image", "", "reference image path, file:// URL or object key")
	add.Flags().BoolVar(&inactive, "inactive", false, "enroll without adding to the roster")
	for _, f := range []string{"code", "name", "image"} {
		_ = add.MarkFlagRequired(f)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List active identities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.ListActiveIdentities(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", id.ID, id.Code, id.Name, id.ReferenceImage)
			}
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func (a *app) cameraCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "camera",
		Short: "Manage stored camera configurations",
	}

	var cam models.CameraConfig
	add := &cobra.Command{
		Use:   "add",
		Short: "Add or replace a camera",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.AddCamera(ctx, cam)
		},
	}
	add.Flags().StringVar(&cam.Name, "name", "", "unique camera name")
	add.Flags().StringVar(&cam.Source, "source", "", "device index, path, file or URL")
	add.Flags().Float64Var(&cam.Threshold, "threshold", 0, "match threshold (0 uses recognition.default_threshold)")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("source")

	cmd.AddCommand(add)
	return cmd
}

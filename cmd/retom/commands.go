package main

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/retom/internal/config"
	"github.com/dharsanguruparan/retom/internal/model"
	"github.com/dharsanguruparan/retom/internal/retro"
)

func newAddCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add <image>...",
		Short: "Develop image files into the collection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			for _, path := range args {
				img, err := decodeFile(path)
				if err != nil {
					return err
				}
				rec, err := store.AddPhoto(img)
				if err != nil {
					return fmt.Errorf("add %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", rec.ID, path)
			}
			return nil
		},
	}
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := retro.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List photos, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			now := time.Now()
			premium := store.IsPremium()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCAPTURED\tSTATE\tSIZE\tMEMO")
			for _, p := range store.Newest() {
				size := "missing"
				if info, err := os.Stat(store.ImagePath(p)); err == nil {
					size = humanize.Bytes(uint64(info.Size()))
				}
				memo := ""
				if p.HasMemo() {
					memo = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, humanize.RelTime(p.CapturedAt, now, "ago", "from now"), state(p, premium, now), size, memo)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s photos, premium %v\n", humanize.Comma(int64(store.Len())), premium)
			return nil
		},
	}
}

func state(p model.PhotoRecord, premium bool, now time.Time) string {
	switch {
	case p.IsUnlockedEarly:
		return "unlocked"
	case p.ViewableAt(premium, now):
		return "ready"
	default:
		return "developing " + p.RemainingTimeString(now)
	}
}

func newSeedCmd(opts *options) *cobra.Command {
	var (
		count      int
		developing int
		readyIn    time.Duration
		spread     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Add generated placeholder photos for development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 || developing < 0 || developing > count {
				return fmt.Errorf("need 0 <= developing <= count and count > 0")
			}
			store, cfg, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			proc := retro.NewProcessor(cfg.JPEGQuality, cfg.StampLayout)
			now := time.Now()
			for i := 0; i < count; i++ {
				capturedAt := now.Add(-time.Duration(count-1-i) * spread)
				readyAt := capturedAt
				if i >= count-developing {
					readyAt = now.Add(readyIn)
				}
				var buf bytes.Buffer
				img := proc.Process(retro.Placeholder(640, 480, capturedAt), capturedAt)
				if err := proc.Encode(&buf, img); err != nil {
					return err
				}
				rec, err := store.AddTestRecord(buf.Bytes(), capturedAt, readyAt)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", rec.ID, humanize.Bytes(uint64(buf.Len())))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of photos to add")
	cmd.Flags().IntVar(&developing, "developing", 2, "How many of the newest photos are still developing")
	cmd.Flags().DurationVar(&readyIn, "ready-in", time.Hour, "Develop time left on developing photos")
	cmd.Flags().DurationVar(&spread, "spread", 3*time.Hour, "Gap between capture times")
	return cmd
}

func newUnlockCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <id>...",
		Short: "Unlock developing photos early",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, 0, len(args))
			for _, arg := range args {
				id, err := uuid.Parse(arg)
				if err != nil {
					return fmt.Errorf("invalid id %q: %w", arg, err)
				}
				ids = append(ids, id)
			}
			store, _, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := store.UnlockEarly(id); err != nil {
					return fmt.Errorf("unlock %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s\n", id)
			}
			return nil
		},
	}
}

func newPremiumCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "premium [on|off]",
		Short:     "Show or set the premium flag",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := store.SetPremium(args[0] == "on"); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "premium %v\n", store.IsPremium())
			return nil
		},
	}
}

func newSweepCmd(opts *options) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete image files no photo refers to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("grace") {
				grace = cfg.OrphanGrace
			}
			if grace < config.MinOrphanGrace {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: grace %s is below the minimum, using %s\n", grace, config.MinOrphanGrace)
				grace = config.MinOrphanGrace
			} else if grace < cfg.OrphanGrace {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: grace %s is shorter than the configured %s; recent captures may be removed\n", grace, cfg.OrphanGrace)
			}
			removed, err := store.SweepOrphans(grace)
			for _, path := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d orphaned files removed\n", len(removed))
			return err
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 0, "Keep orphans younger than this (default from config, at least 1m)")
	return cmd
}

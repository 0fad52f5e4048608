package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/elfolz/robot/internal/animation"
	"github.com/elfolz/robot/internal/assetcache"
	"github.com/elfolz/robot/internal/assets"
	"github.com/elfolz/robot/internal/loop"
	"github.com/spf13/cobra"
)

var assetsJSON bool

type assetReport struct {
	Model  *assets.Model     `json:"model,omitempty"`
	Clips  []animation.Clip  `json:"clips"`
	Failed map[string]string `json:"failed,omitempty"`
}

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Load every asset once and print what was found",
	Long: `Fetch the model and every configured animation the same way serve
does, then print the clip durations. With the cache enabled this also warms
the offline cache.

Examples:
  robot assets
  robot assets --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, syslog, err := setup()
		if err != nil {
			return err
		}
		defer syslog.Close()
		zl := syslog.Zerolog()

		client := http.DefaultClient
		if cfg.Assets.Cache.Enabled {
			store, err := assetcache.OpenBadger(cfg.Assets.Cache.Dir, zl)
			if err != nil {
				return err
			}
			defer store.Close()
			cache := assetcache.New(store, assetcache.WithLogger(zl))
			defer cache.Wait()
			client = &http.Client{Transport: cache}
		}
		src, err := assets.NewSource(cfg.Assets.BaseURL, client)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		l := loop.New(0, zl)
		go l.Run(ctx)

		report := assetReport{Failed: make(map[string]string)}
		loader := assets.NewLoader(src, l, assets.Handlers{
			Model:  func(m *assets.Model) { report.Model = m },
			Clip:   func(c animation.Clip) { report.Clips = append(report.Clips, c) },
			Failed: func(key string, err error) { report.Failed[key] = err.Error() },
		}, assets.WithTimeout(cfg.Assets.Timeout), assets.WithLogger(zl))

		loadErr := loader.Load(ctx, cfg.Assets.Model, cfg.Assets.Animations)
		done := make(chan struct{})
		l.Post(func() { close(done) })
		<-done

		sort.Slice(report.Clips, func(i, j int) bool { return report.Clips[i].Name < report.Clips[j].Name })
		if assetsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			printReport(report)
		}
		return loadErr
	},
}

func printReport(r assetReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if r.Model != nil {
		fmt.Fprintf(w, "model\t%s\tnodes=%d meshes=%d skins=%d\n", r.Model.Name, r.Model.Nodes, r.Model.Meshes, r.Model.Skins)
	}
	for _, c := range r.Clips {
		fmt.Fprintf(w, "clip\t%s\t%.2fs\n", c.Name, c.Duration)
	}
	for key, msg := range r.Failed {
		fmt.Fprintf(w, "failed\t%s\t%s\n", key, msg)
	}
	w.Flush()
}

func init() {
	assetsCmd.Flags().BoolVar(&assetsJSON, "json", false, "print JSON")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	"github.com/datallboy/stackdl/internal/domain"
	"github.com/datallboy/stackdl/internal/engine"
	"github.com/datallboy/stackdl/internal/infra/config"
	"github.com/datallboy/stackdl/internal/infra/logger"
	"github.com/datallboy/stackdl/internal/transport/httpdl"
)

const getGroup = "get"

type getOptions struct {
	dir   string
	limit int
	force bool
	quiet bool
}

func newGetCmd(root *rootOptions) *cobra.Command {
	opts := &getOptions{}

	cmd := &cobra.Command{
		Use:   "get <url>...",
		Short: "Download urls into a directory and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}

			level := logger.LevelInfo
			if opts.quiet {
				level = logger.LevelError
			}
			log := logger.NewWriter(cmd.ErrOrStderr(), level)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return get(ctx, cfg, log, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.dir, "dir", "d", ".", "directory to save downloads into")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 2, "concurrent downloads, 0 for no limit")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "download the first url ahead of the rest")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "only report errors")
	return cmd
}

// fileName picks the object key a url is saved under.
func fileName(rawURL string, n int) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return fmt.Sprintf("download-%d", n)
}

func get(ctx context.Context, cfg *config.Config, log *logger.Logger, opts *getOptions, urls []string) error {
	if opts.limit < 0 {
		return fmt.Errorf("limit cannot be negative")
	}
	for _, raw := range urls {
		if err := domain.NewRequest(raw).Validate(); err != nil {
			return err
		}
	}

	bucket, err := fileblob.OpenBucket(opts.dir, &fileblob.Options{
		CreateDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.dir, err)
	}
	defer bucket.Close()

	session := httpdl.NewSession(bucket, log, sessionOptions(cfg.Transport))
	defer func() {
		if _, err := session.Purge(context.Background()); err != nil {
			log.Warn("Could not remove partial downloads: %v", err)
		}
	}()

	sched := engine.New(session, log)
	sched.RegisterGroup(getGroup, opts.limit)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []error
	)
	save := func(name string) engine.Callbacks {
		return engine.Callbacks{
			Progress: func(t *engine.Task) {
				log.Debug("%s: %.0f%%", name, t.Progress()*100)
			},
			Completion: func(t *engine.Task, data []byte, err error) {
				defer wg.Done()
				if err == nil && data == nil {
					err = domain.ErrEmptyPayload
				}
				if err == nil {
					err = writeFile(bucket, name, data)
				}
				if err != nil {
					mu.Lock()
					failed = append(failed, fmt.Errorf("%s: %w", name, err))
					mu.Unlock()
					log.Error("%s failed: %v", name, err)
					return
				}
				log.Info("Saved %s (%d bytes)", name, len(data))
			},
		}
	}

	first := 0
	if opts.force {
		first = 1
	}
	for i := first; i < len(urls); i++ {
		wg.Add(1)
		if err := sched.Schedule(urls[i], getGroup, domain.NewRequest(urls[i]), save(fileName(urls[i], i))); err != nil {
			return err
		}
	}
	if opts.force {
		wg.Add(1)
		if err := sched.ForceDownload(urls[0], getGroup, domain.NewRequest(urls[0]), save(fileName(urls[0], 0))); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sched.CancelAll()
		return ctx.Err()
	}

	return errors.Join(failed...)
}

func writeFile(bucket *blob.Bucket, name string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return bucket.WriteAll(ctx, name, data, nil)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/radiolink/transport"
	"github.com/opd-ai/radiolink/xtp"
)

// ArchiveStampLayout names the per-run archive directory. It avoids ':' so
// the name is valid on every filesystem and as a remote path.
const ArchiveStampLayout = "20060102T150405"

// DefaultSettle is how long a watched directory must stay quiet before it
// is archived.
const DefaultSettle = 2 * time.Second

// FileSender sends and verifies one file. *xtp.Client satisfies it.
type FileSender interface {
	SendFile(ctx context.Context, path, remotePath string) (*xtp.FileResult, error)
}

// ArchiveResult is the outcome for one source file.
type ArchiveResult struct {
	Source string
	// Archived is the local destination, empty unless the file was moved.
	Archived string
	Result   *xtp.FileResult
	Err      error
}

// Archiver sends every regular, non-empty file in Source and moves the
// verified ones to Dest/<stamp>/<name>. The remote name is <stamp>/<name>.
type Archiver struct {
	Sender FileSender
	Source string
	Dest   string
	// Now defaults to time.Now.
	Now func() time.Time
}

func (a *Archiver) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Run archives the current contents of Source once. A device failure or a
// cancelled ctx stops the run; other per-file errors are recorded and the
// run continues with the next file.
func (a *Archiver) Run(ctx context.Context) ([]ArchiveResult, error) {
	entries, err := os.ReadDir(a.Source)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", a.Source, err)
	}

	var (
		results []ArchiveResult
		stamp   string
	)
	for _, entry := range entries {
		src := filepath.Join(a.Source, entry.Name())
		if !archivable(entry) {
			logrus.WithFields(logrus.Fields{
				"function": "Archiver.Run",
				"path":     src,
			}).Debug("Skipping entry")
			continue
		}

		if stamp == "" {
			stamp = a.now().Format(ArchiveStampLayout)
			if err := os.MkdirAll(filepath.Join(a.Dest, stamp), 0o755); err != nil {
				return results, fmt.Errorf("create archive directory: %w", err)
			}
			logrus.WithFields(logrus.Fields{
				"function": "Archiver.Run",
				"source":   a.Source,
				"archive":  filepath.Join(a.Dest, stamp),
			}).Info("Archiving directory")
		}

		res := a.archiveFile(ctx, src, stamp, entry.Name())
		results = append(results, res)
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		if errors.Is(res.Err, transport.ErrDeviceFailure) {
			return results, res.Err
		}
	}

	if stamp == "" {
		logrus.WithFields(logrus.Fields{
			"function": "Archiver.Run",
			"source":   a.Source,
		}).Info("No files to archive")
	}
	return results, nil
}

func (a *Archiver) archiveFile(ctx context.Context, src, stamp, name string) ArchiveResult {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Archiver.archiveFile",
		"path":     src,
	})
	res := ArchiveResult{Source: src}

	result, err := a.Sender.SendFile(ctx, src, path.Join(stamp, name))
	res.Result = result
	if err != nil {
		logger.WithField("error", err.Error()).Error("Send failed")
		res.Err = err
		return res
	}
	if !result.Verified {
		logger.Error("Not archiving, verification failed")
		res.Err = errNotVerified
		return res
	}

	dst := filepath.Join(a.Dest, stamp, name)
	if err := moveFile(src, dst); err != nil {
		logger.WithField("error", err.Error()).Error("Move to archive failed")
		res.Err = err
		return res
	}
	res.Archived = dst
	logger.WithFields(logrus.Fields{
		"archived": dst,
		"kbps":     fmt.Sprintf("%.2f", result.Kbps),
	}).Info("File archived")
	return res
}

// Watch runs the archiver once, then again whenever Source has been quiet
// for settle after a create or write. It returns when ctx is cancelled or
// a run fails with a device failure.
func (a *Archiver) Watch(ctx context.Context, settle time.Duration, report func([]ArchiveResult)) error {
	if settle <= 0 {
		settle = DefaultSettle
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(a.Source); err != nil {
		return fmt.Errorf("watch %s: %w", a.Source, err)
	}

	logger := logrus.WithFields(logrus.Fields{
		"function": "Archiver.Watch",
		"source":   a.Source,
	})
	logger.Info("Monitoring directory")

	run := func() error {
		results, err := a.Run(ctx)
		if len(results) > 0 && report != nil {
			report(results)
		}
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if err := run(); err != nil {
		return err
	}

	settled := time.NewTimer(settle)
	settled.Stop()
	defer settled.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			logger.WithField("event", event.String()).Debug("Directory changed")
			settled.Reset(settle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithField("error", err.Error()).Warn("Watcher error")
		case <-settled.C:
			if err := run(); err != nil {
				return err
			}
		}
	}
}

// superviseWatch runs Watch on every transport sup opens. A device failure
// ends the watch, the supervisor reopens the radio, and watching resumes
// with a sender built on the fresh transport.
func superviseWatch(ctx context.Context, sup *transport.Supervisor, a *Archiver, newSender func(transport.Transport) FileSender, settle time.Duration, report func([]ArchiveResult)) error {
	return sup.Run(ctx, func(ctx context.Context, t transport.Transport) error {
		a.Sender = newSender(t)
		return a.Watch(ctx, settle, report)
	})
}

func archivable(entry os.DirEntry) bool {
	if strings.HasPrefix(entry.Name(), ".") || !entry.Type().IsRegular() {
		return false
	}
	info, err := entry.Info()
	return err == nil && info.Size() > 0
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

var (
	archiveWatch  bool
	archiveSettle time.Duration
)

var archiveCmd = &cobra.Command{
	Use:   "archive <source-dir> <archive-dir>",
	Short: "Send every file in a directory and move verified files to an archive",
	Long: `Archive sends each regular, non-empty file in source-dir as
<stamp>/<name>, verifies it, and moves verified files to
archive-dir/<stamp>/<name>. With --watch it keeps running and archives new
files once the directory has settled.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		archiver := &Archiver{Source: args[0], Dest: args[1]}
		report := func(results []ArchiveResult) {
			fmt.Fprint(cmd.OutOrStdout(), renderArchiveReport(results))
		}
		newSender := func(t transport.Transport) FileSender {
			return xtp.NewClient(t, cfg.XTPConfig())
		}

		if archiveWatch {
			sup := &transport.Supervisor{
				Open: func(context.Context) (transport.Transport, error) {
					return openTransport(cfg)
				},
				Backoff: cfg.Radio.RestartBackoff,
			}
			return superviseWatch(ctx, sup, archiver, newSender, archiveSettle, report)
		}

		t, err := openTransport(cfg)
		if err != nil {
			return fmt.Errorf("failed to open radio: %w", err)
		}
		defer t.Close()
		archiver.Sender = newSender(t)

		results, err := archiver.Run(ctx)
		report(results)
		if err != nil {
			return err
		}
		if n := countFailed(results); n > 0 {
			return fmt.Errorf("%d of %d files not archived", n, len(results))
		}
		return nil
	},
}

func renderArchiveReport(results []ArchiveResult) string {
	sent := make([]*xtp.FileResult, 0, len(results))
	var b strings.Builder
	for _, r := range results {
		if r.Result != nil {
			sent = append(sent, r.Result)
		}
		if r.Err != nil {
			b.WriteString(failStyle.Render(fmt.Sprintf("%s: %v", r.Source, r.Err)))
			b.WriteString("\n")
		}
	}
	return renderReport(sent) + b.String()
}

func countFailed(results []ArchiveResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func init() {
	archiveCmd.Flags().BoolVar(&archiveWatch, "watch", false, "keep running and archive new files")
	archiveCmd.Flags().DurationVar(&archiveSettle, "settle", DefaultSettle, "quiet period before a watched directory is archived")
	rootCmd.AddCommand(archiveCmd)
}

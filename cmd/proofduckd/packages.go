package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/renameio"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"proofduck/internal/common/fsutil"
	"proofduck/internal/daemon"
	"proofduck/internal/modelpkg"
	"proofduck/internal/store"
)

func (a *app) openStore() (*store.Store, error) {
	dir, err := fsutil.ExpandHome(a.cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, err
	}
	return store.Open(daemon.DBPath(dir), a.log)
}

// progressLog logs at most once per quarter. Safe for concurrent use.
func progressLog(log zerolog.Logger, op string) modelpkg.ProgressFunc {
	var next atomic.Int64
	return func(p float64) {
		step := int64(p / 25)
		if cur := next.Load(); step < cur || !next.CompareAndSwap(cur, step+1) {
			return
		}
		log.Info().Str("op", op).Float64("percent", p).Msg("pkg event=progress")
	}
}

// writeAtomically streams write into path, replacing it only on success.
func writeAtomically(path string, write func(io.Writer) error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	pf, err := renameio.TempFile(filepath.Dir(abs), abs)
	if err != nil {
		return err
	}
	defer pf.Cleanup()
	if err := write(pf); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}

func newPackCmd(a *app) *cobra.Command {
	var modelID, out string
	cmd := &cobra.Command{
		Use:     "pack <dir>",
		Short:   "Bundle a local model folder into a package",
		Example: "  proofduckd pack ./Qwen2.5-0.5B-Instruct-q4f16_1 -m Qwen2.5-0.5B-Instruct-q4f16_1",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelID == "" {
				modelID = filepath.Base(filepath.Clean(args[0]))
			}
			if out == "" {
				out = modelID + modelpkg.Ext
			}
			entries, err := readDirEntries(args[0], modelpkg.ShardBaseURL(modelID))
			if err != nil {
				return err
			}
			if err := writeAtomically(out, func(w io.Writer) error { return modelpkg.Encode(w, entries) }); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "packed %d files into %s\n", len(entries), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model id used to build entry URLs (default: folder name)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file (default: <model>.pkg)")
	return cmd
}

// readDirEntries loads every regular file under dir as base+<relative path>.
func readDirEntries(dir, base string) ([]modelpkg.Entry, error) {
	var entries []modelpkg.Entry
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		entries = append(entries, modelpkg.Entry{URL: base + path.Clean(filepath.ToSlash(rel)), Payload: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no files under %s", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].URL < entries[j].URL })
	return entries, nil
}

func newUnpackCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "unpack <file.pkg>",
		Short: "List a package, or extract it into a directory with -o",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			dec, err := modelpkg.NewDecoder(f)
			if err != nil {
				return err
			}
			for {
				e, err := dec.Next()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Fprintf(a.stdout, "%10d  %s\n", len(e.Payload), e.URL)
					continue
				}
				dst, err := entryPath(out, e.URL)
				if err != nil {
					return err
				}
				if err := fsutil.EnsureDir(filepath.Dir(dst)); err != nil {
					return err
				}
				if err := renameio.WriteFile(dst, e.Payload, 0o644); err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, dst)
			}
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Directory to extract into")
	return cmd
}

// entryPath maps an entry URL to out/<host>/<path>, never escaping out.
func entryPath(out, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("entry url %q: %w", rawURL, err)
	}
	p := path.Clean("/" + u.Path)
	if p == "/" || u.Host == "" || strings.ContainsAny(u.Host, `/\`) {
		return "", fmt.Errorf("entry url %q has no file path", rawURL)
	}
	return filepath.Join(out, u.Host, filepath.FromSlash(p)), nil
}

func newExportCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <model-id>",
		Short: "Write every cached file of a model to a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if out == "" {
				out = id + modelpkg.Ext
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			var n int
			err = writeAtomically(out, func(w io.Writer) error {
				var err error
				n, err = modelpkg.Export(cmd.Context(), st.Content(), id, w, progressLog(a.log, "export"))
				if err == nil && n == 0 {
					err = fmt.Errorf("no cached files for model %q", id)
				}
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "exported %d entries to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file (default: <model-id>.pkg)")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var dir, modelID string
	var trustAll bool
	cmd := &cobra.Command{
		Use:   "import [file.pkg]",
		Short: "Load a package, or a model folder with --dir, into the content cache",
		Example: "  proofduckd import Qwen2.5-0.5B-Instruct-q4f16_1.pkg\n" +
			"  proofduckd import --dir ./Qwen2.5-0.5B-Instruct-q4f16_1 -m Qwen2.5-0.5B-Instruct-q4f16_1",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (dir == "") == (len(args) == 0) {
				return errors.New("pass either a package file or --dir")
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if dir != "" {
				return a.importDir(cmd.Context(), st, dir, modelID)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var allow *modelpkg.AllowList
			if !trustAll {
				allow = modelpkg.DefaultAllowList()
				if len(a.cfg.TrustedURLPrefixes) > 0 {
					allow = &modelpkg.AllowList{Prefixes: a.cfg.TrustedURLPrefixes}
				}
			}
			res, err := modelpkg.Import(cmd.Context(), st.Content(), data, modelpkg.ImportOptions{Allow: allow}, progressLog(a.log, "import"))
			fmt.Fprintf(a.stdout, "imported %d entries (%d bytes)\n", res.Entries, res.Bytes)
			for _, u := range res.Skipped {
				fmt.Fprintf(a.stdout, "skipped untrusted %s\n", u)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Model folder to import file by file")
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model id for --dir (default: folder name)")
	cmd.Flags().BoolVar(&trustAll, "trust-all", false, "Accept entries from any URL")
	return cmd
}

func (a *app) importDir(ctx context.Context, st *store.Store, dir, modelID string) error {
	if modelID == "" {
		modelID = filepath.Base(filepath.Clean(dir))
	}
	n, err := modelpkg.ImportDir(ctx, st.Content(), dir, modelID, progressLog(a.log, "import_dir"))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "imported %d files as %s\n", n, modelID)
	return nil
}

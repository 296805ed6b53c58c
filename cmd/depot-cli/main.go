package main

import (
	"context"
	"depot/internal/core"
	"depot/internal/depot"
	"depot/internal/ident"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
)

const usage = `usage: depot-cli [flags] <command> [args]

commands:
  upload <file>...              store files and print their descriptors
  list                          print every key in the container and whether it is a generated id
  meta <id>                     print the descriptor of a file
  get <id> [dest]               write a file to dest (default: its original name)
  thumb [-w N] [-h N] [-fill] <id> <dest>
                                write a thumbnail to dest
`

// openFile adapts a local path to an upload batch entry.
func openFile(path string) (depot.UploadFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return depot.UploadFile{}, err
	}
	if info.IsDir() {
		return depot.UploadFile{}, fmt.Errorf("%s is a directory", path)
	}

	return depot.UploadFile{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadSeekCloser, error) {
			return os.Open(path)
		},
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runUpload(ctx context.Context, d *core.Depot, args []string) error {
	if len(args) == 0 {
		return errors.New("upload needs at least one file")
	}

	files := make([]depot.UploadFile, 0, len(args))
	for _, path := range args {
		f, err := openFile(path)
		if err != nil {
			return err
		}
		files = append(files, f)
	}

	descriptors, err := depot.NewUploader(d.Store).AddMany(ctx, files)
	if err != nil {
		return err
	}
	if descriptors == nil {
		slog.Warn("Nothing was stored; every file was empty")
		return nil
	}
	return printJSON(os.Stdout, descriptors)
}

func runList(ctx context.Context, d *core.Depot) error {
	for key, err := range d.Store.List(ctx) {
		if err != nil {
			return err
		}
		kind := "other"
		if ident.Valid(key) {
			kind = "generated"
		}
		fmt.Printf("%s\t%s\n", key, kind)
	}
	return nil
}

func runMeta(ctx context.Context, d *core.Depot, args []string) error {
	if len(args) != 1 {
		return errors.New("meta needs exactly one id")
	}

	desc, err := d.Store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, desc)
}

// writeTo copies r into a new file at dest.
func writeTo(dest string, r io.Reader) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return f.Close()
}

func runGet(ctx context.Context, d *core.Depot, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("get needs an id and an optional destination")
	}
	id := args[0]

	desc, err := d.Store.Get(ctx, id)
	if err != nil {
		return err
	}

	dest := filepath.Base(desc.FileName)
	if len(args) == 2 {
		dest = args[1]
	}
	if dest == "" || dest == "." || dest == string(filepath.Separator) {
		dest = id
	}

	rc, found, err := d.Store.OpenRead(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", depot.ErrNotFound, id)
	}
	defer rc.Close()

	if err := writeTo(dest, rc); err != nil {
		return err
	}
	slog.Info("Downloaded file", "id", id, "dest", dest, "size", desc.Size)
	return nil
}

func runThumb(ctx context.Context, d *core.Depot, args []string) error {
	flags := flag.NewFlagSet("thumb", flag.ContinueOnError)
	width := flags.Int("w", 0, "width, 0 for unconstrained")
	height := flags.Int("h", 0, "height, 0 for unconstrained")
	fill := flags.Bool("fill", false, "crop to exactly w x h")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 {
		return errors.New("thumb needs an id and a destination")
	}

	var w, h *int
	if *width > 0 {
		w = width
	}
	if *height > 0 {
		h = height
	}

	rc, ok, err := d.Thumbnails.Get(ctx, flags.Arg(0), *fill, w, h)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is not a renderable image", flags.Arg(0))
	}
	defer rc.Close()

	return writeTo(flags.Arg(1), rc)
}

func Run(ctx context.Context, args []string) error {

	if err := core.LoadEnvFiles(".env"); err != nil {
		return err
	}

	var settings core.Settings
	flags := flag.NewFlagSet("depot-cli", flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(flags.Output(), usage)
		flags.PrintDefaults()
	}
	settings.RegisterFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := core.SetupLogging(os.Stderr, settings.LogLevel); err != nil {
		return err
	}

	if flags.NArg() == 0 {
		flags.Usage()
		return errors.New("missing command")
	}

	d, err := settings.OpenDepot(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to open depot: %w", err)
	}
	defer d.Close()

	command, rest := flags.Arg(0), flags.Args()[1:]
	switch command {
	case "upload":
		return runUpload(ctx, d, rest)
	case "list":
		return runList(ctx, d)
	case "meta":
		return runMeta(ctx, d, rest)
	case "get":
		return runGet(ctx, d, rest)
	case "thumb":
		return runThumb(ctx, d, rest)
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := Run(ctx, os.Args[1:]); err != nil {
		slog.Error("depot-cli failed", "error", err)
		os.Exit(1)
	}
}

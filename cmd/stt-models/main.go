package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/airvzxf/stt-assistant/internal/models"
)

const usage = `Usage: stt-models <command> [flags]

Commands:
  list                 list known models and where they are installed
  download <name>      download a model (--global, --force, --url, --out)
  path                 show the model directories
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dirs := models.DefaultDirs()
	var err error
	switch cmd := os.Args[1]; cmd {
	case "list":
		list(dirs)
	case "path":
		fmt.Println("Local: ", dirs.Local)
		fmt.Println("Global:", dirs.Global)
	case "download":
		err = download(ctx, dirs, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "stt-models: %v\n", err)
		os.Exit(1)
	}
}

func list(dirs models.Dirs) {
	yes := color.New(color.FgGreen).SprintFunc()
	no := color.New(color.Faint).SprintFunc()
	mark := func(ok bool) string {
		if ok {
			return yes("YES")
		}
		return no("-  ")
	}

	fmt.Println("Available models from HuggingFace (ggerganov/whisper.cpp):")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tDESCRIPTION\tLOCAL\tGLOBAL")
	for _, p := range dirs.Scan() {
		fmt.Fprintf(w, "%s\t%d MB\t%s\t%s\t%s\n", p.Model.Name, p.Model.SizeMB, p.Model.Description, mark(p.Local), mark(p.Global))
	}
	w.Flush()
	fmt.Println()
	fmt.Println("Note: stt-daemon prefers LOCAL models over GLOBAL ones.")
}

func download(ctx context.Context, dirs models.Dirs, args []string) error {
	fs := pflag.NewFlagSet("download", pflag.ContinueOnError)
	force := fs.BoolP("force", "f", false, "overwrite an existing model")
	global := fs.BoolP("global", "g", false, "install to "+dirs.Global+" (needs root)")
	url := fs.String("url", "", "download from this URL instead of HuggingFace")
	out := fs.String("out", "", "write to this file instead of the models directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("download needs exactly one model name")
	}

	m, err := models.Lookup(fs.Arg(0))
	if err != nil {
		return err
	}

	req := models.Request{
		URL:      m.URL(),
		Dest:     filepath.Join(dirs.Target(*global), m.FileName()),
		Force:    *force,
		Progress: os.Stdout,
		Label:    m.Name,
	}
	if *url != "" {
		req.URL = *url
	}
	if *out != "" {
		req.Dest = *out
	}

	fmt.Printf("Downloading %s (~%d MB)\n", m.Name, m.SizeMB)
	fmt.Printf("  URL: %s\n", req.URL)
	fmt.Printf("  Destination: %s\n", req.Dest)

	n, err := models.NewDownloader(nil).Download(ctx, req)
	if errors.Is(err, models.ErrExists) {
		fmt.Printf("Model %q already exists at %s. Use --force to overwrite.\n", m.Name, req.Dest)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Downloaded %.1f MB\n", float64(n)/(1024*1024))
	return nil
}

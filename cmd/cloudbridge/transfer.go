package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/rolledback/cloudbridge/internal/models"
	"github.com/rolledback/cloudbridge/internal/notify"
)

// one-shot commands run a single task with this ID
const cliTaskID = 1

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a remote folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}

		ctx, stop := signalContext()
		defer stop()
		a := newApp(ctx)
		defer a.close()

		resp := a.bridge.ListFolder(ctx, path)
		if !resp.Success {
			return responseError(resp)
		}
		listing := resp.Data.(models.FolderListing)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, e := range listing.Paths {
			if e.IsFile {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.PathDisplay, humanize.IBytes(e.Filesize), e.ServerModified)
			} else {
				fmt.Fprintf(w, "%s/\t-\t\n", e.PathDisplay)
			}
		}
		return w.Flush()
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <local> <remote>",
	Short: "Upload a local file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := os.Stat(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()
		a := newApp(ctx)
		defer a.close()

		resp := a.bridge.SubmitUpload(cliTaskID, args[0], args[1])
		return followTask(a.queue.Events(), resp, "Uploading", info.Size())
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <remote> <local>",
	Short: "Download a remote file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		a := newApp(ctx)
		defer a.close()

		resp := a.bridge.SubmitDownload(cliTaskID, args[0], args[1])
		return followTask(a.queue.Events(), resp, "Downloading", -1)
	},
}

// followTask renders the accepted task's progress until its result arrives.
func followTask(events <-chan notify.Event, resp models.Response, description string, size int64) error {
	if !resp.Success {
		return responseError(resp)
	}
	accepted := resp.Data.(models.TaskAccepted)

	bar := progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)

	result, err := awaitResult(events, accepted.TaskID, func(e notify.Event) {
		if e.TotalBytes != nil && bar.GetMax64() != *e.TotalBytes {
			bar.ChangeMax64(*e.TotalBytes)
		}
		bar.Set64(e.BytesTransferred)
	})
	if err != nil {
		return err
	}
	if !result.Success {
		bar.Exit()
		fmt.Fprintln(os.Stderr)
		return fmt.Errorf("%s (%s)", result.Message, result.Code)
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	fmt.Println(result.Message)
	return nil
}

// awaitResult consumes events until the result for taskID, passing that
// task's progress to onProgress.
func awaitResult(events <-chan notify.Event, taskID int64, onProgress func(notify.Event)) (notify.Event, error) {
	for e := range events {
		if e.TaskID != taskID {
			continue
		}
		if e.Kind == notify.KindResult {
			return e, nil
		}
		onProgress(e)
	}
	return notify.Event{}, errors.New("event stream closed before the transfer finished")
}

func responseError(resp models.Response) error {
	if resp.Code == "" {
		return errors.New(resp.Message)
	}
	return fmt.Errorf("%s (%s)", resp.Message, resp.Code)
}

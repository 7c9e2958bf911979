package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/snarg/insight-engine/internal/api"
	"github.com/snarg/insight-engine/internal/database"
)

// insightctl uploads an audio file to a running insight-engine and
// optionally polls until processing finishes.
//
//	insightctl -server http://localhost:8080 -file meeting.wav -wait
func main() {
	server := flag.String("server", "http://localhost:8080", "insight-engine base URL")
	token := flag.String("token", os.Getenv("AUTH_TOKEN"), "bearer token (default $AUTH_TOKEN)")
	file := flag.String("file", "", "audio file to upload")
	wait := flag.Bool("wait", false, "poll until processing completes or fails")
	interval := flag.Duration("interval", 2*time.Second, "poll interval with -wait")
	attempts := flag.Int("attempts", 60, "max poll attempts with -wait")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: insightctl -file <audio> [-server URL] [-wait]")
		os.Exit(2)
	}

	in, err := upload(*server, *token, *file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "accepted: id=%s status=%s\n", in.ID, in.ProcessingStatus)

	if !*wait {
		printJSON(in)
		return
	}

	poller := &api.Poller{
		BaseURL:     *server,
		Token:       *token,
		Interval:    *interval,
		MaxAttempts: *attempts,
	}
	final, err := poller.WaitForInsight(context.Background(), in.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "polling failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(final)
	if final.ProcessingStatus == database.StatusFailed {
		os.Exit(1)
	}
}

func upload(server, token, path string) (*database.InsightAPI, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fw, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(fw, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequest(http.MethodPost, server+"/api/v1/insights", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	var in database.InsightAPI
	if err := json.NewDecoder(resp.Body).Decode(&in); err != nil {
		return nil, err
	}
	return &in, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

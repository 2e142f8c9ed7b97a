// pushgate-admin drives the push review workflow from the command line,
// talking to a running pushgate instance over its JSON API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	apiURL     string
	apiToken   string
	jsonOutput bool

	rootCmd = &cobra.Command{
		Use:   "pushgate-admin",
		Short: "Review pushes held by pushgate",
		Long: `pushgate-admin lists pushes held for review and authorises,
rejects or cancels them through the pushgate API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "url",
		"http://localhost:8000/api/v1", "pushgate API base URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token",
		os.Getenv("PUSHGATE_TOKEN"), "bearer token (defaults to $PUSHGATE_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"output in JSON format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// call performs an authenticated API request and decodes the response
// into out, if out is non-nil.
func call(method, path string, body, out interface{}) error {
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, apiURL+path, &reqBody)
	if err != nil {
		return err
	}
	if apiToken == "" {
		return errors.New("no token: set --token or $PUSHGATE_TOKEN")
	}
	req.Header.Set("Authorization", "Bearer "+apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		raw, _ := ioutil.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return errors.Errorf("%s: %s", resp.Status, apiErr.Message)
		}
		return errors.Errorf("%s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

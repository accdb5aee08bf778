// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/spindle/pkg/httpapi"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show running agent servers",
	Long:  `Query a running Spindle server and list its agent servers.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	url := fmt.Sprintf("http://%s/v1/servers", config.Server.HTTPAddr)
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("is spindle running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s from %s", resp.Status, url)
	}

	var body struct {
		Servers []httpapi.ServerInfo `json:"servers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode server list: %w", err)
	}

	if len(body.Servers) == 0 {
		fmt.Println("No agent servers running.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY\tPORT\tSTATUS\tUPTIME\tWORKTREE")
	for _, srv := range body.Servers {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			srv.EntityID, srv.Port, srv.Status,
			time.Since(srv.StartedAt).Truncate(time.Second), srv.Worktree)
	}
	return w.Flush()
}

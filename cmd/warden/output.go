package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/filewarden/pkg/client"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUpload(res *client.UploadResult) error {
	if outputFormat == "json" {
		return printJSON(res)
	}
	fmt.Printf("Path:        %s\n", res.Path)
	fmt.Printf("Token:       %s\n", res.Token)
	fmt.Printf("Fingerprint: %s\n", res.Fingerprint)
	fmt.Printf("Address:     %s\n", res.Address)
	fmt.Printf("Block:       %d\n", res.Index)
	fmt.Println("\nKeep the token; it is required to modify this file.")
	return nil
}

func printGrant(name string, g *client.Grant) error {
	if outputFormat == "json" {
		return printJSON(g)
	}
	fmt.Printf("Modification of %s granted.\n", name)
	if g.Session != nil {
		fmt.Printf("Session:     %s\n", g.Session.ID)
		fmt.Printf("Expires:     %s\n", g.Session.ExpiresAt.Local().Format(time.RFC3339))
	}
	fmt.Printf("\nEdit the file, then run 'warden done %s' (or 'warden cancel %s').\n", name, name)
	return nil
}

func printFiles(files []client.FileStatus) error {
	if outputFormat == "json" {
		return printJSON(files)
	}
	if len(files) == 0 {
		fmt.Println("No protected files.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tMODE\tBLOCK\tFINGERPRINT\tUPDATED")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			f.Path, f.Mode, f.BlockIndex, short(f.Fingerprint), f.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func printBlocks(blocks []client.Block) error {
	if outputFormat == "json" {
		return printJSON(blocks)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tACTION\tPATH\tFINGERPRINT\tHASH\tTIME")
	for _, b := range blocks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			b.Index, b.Payload.Action, b.Payload.Path, short(b.Payload.Fingerprint), short(b.Hash),
			b.Payload.Timestamp.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func printLogs(entries []client.LogEntry) error {
	if outputFormat == "json" {
		return printJSON(entries)
	}
	for _, e := range entries {
		fmt.Printf("%s  %-4s  %s\n", e.Timestamp.Local().Format(time.DateTime), e.Level, e.Message)
	}
	return nil
}

func printOverview(ov *client.LedgerOverview) error {
	if outputFormat == "json" {
		return printJSON(ov)
	}
	fmt.Printf("Blocks: %d\n", ov.Blocks)
	fmt.Printf("Root:   %s\n", ov.Root)
	return nil
}

func printVerify(res *client.VerifyResult) error {
	if outputFormat == "json" {
		return printJSON(res)
	}
	if res.Valid {
		fmt.Println("Ledger OK")
	} else {
		fmt.Printf("Ledger CORRUPT: %s\n", res.Error)
	}
	return nil
}

// short abbreviates a hex digest for tables.
func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shiftgate/kiosk/internal/auth"
	"github.com/shiftgate/kiosk/pkg/sdk"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	kioskURL := os.Getenv("KIOSK_URL")
	if kioskURL == "" {
		kioskURL = "http://localhost:8080"
	}

	client := sdk.NewClient(sdk.Config{
		BaseURL: kioskURL,
		APIKey:  os.Getenv("KIOSK_API_KEY"),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "scan":
		cmdScan(ctx, client)
	case "manual":
		cmdManual(ctx, client)
	case "locate":
		cmdLocate(ctx, client)
	case "group":
		cmdGroup(ctx, client)
	case "records":
		cmdRecords(ctx, client)
	case "settings":
		cmdSettings(ctx, client)
	case "webhooks":
		cmdWebhooks(ctx, client)
	case "keygen":
		cmdKeygen()
	case "health":
		cmdHealth(ctx, client)
	case "version":
		fmt.Printf("kioskctl v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`ShiftGate Kiosk CLI v` + version + `

Usage: kioskctl <command> [flags]

Commands:
  scan      Submit a badge-code or face scan
  manual    Submit an operator manual entry
  locate    Resolve a parked location request
  group     Group checkout: on|off|status|commit|clear
  records   List attendance records
  settings  Show or patch shift settings
  webhooks  Manage webhook subscriptions
  keygen    Mint an operator API key
  health    Kiosk health report
  version   Print version
  help      Show this help

Environment:
  KIOSK_URL       Kiosk base URL (default: http://localhost:8080)
  KIOSK_API_KEY   Operator key for settings/webhook writes

Examples:
  kioskctl scan --code 482913
  kioskctl manual --subject s-1042 --intent final --emergency "family call"
  kioskctl locate req-id --name "Site B" --category work
  kioskctl group on
  kioskctl group commit --name "Office" --category work
  kioskctl records --subject s-1042 --day 2026-03-02
  kioskctl settings set warmup_frames=5 group_commit_mode=queue
  kioskctl webhooks add --url https://hr.example.com/hook --events attendance.committed`)
}

// ----------------------------------------------------------------
// scan / manual
// ----------------------------------------------------------------

func cmdScan(ctx context.Context, client *sdk.Client) {
	req := parseScanFlags(os.Args[2:])
	if req.SubjectID == "" && req.Code == "" {
		fmt.Fprintln(os.Stderr, "Error: --subject or --code is required")
		os.Exit(1)
	}
	if req.Method == "" {
		if req.Code != "" {
			req.Method = "code"
		} else {
			req.Method = "face"
		}
	}

	out, err := client.Scan(ctx, req)
	exitOn(err)
	printOutcome(out)
}

func cmdManual(ctx context.Context, client *sdk.Client) {
	req := parseScanFlags(os.Args[2:])
	if req.SubjectID == "" {
		fmt.Fprintln(os.Stderr, "Error: --subject is required")
		os.Exit(1)
	}

	out, err := client.Manual(ctx, req.SubjectID, req)
	exitOn(err)
	printOutcome(out)
}

func parseScanFlags(args []string) sdk.ScanRequest {
	var req sdk.ScanRequest
	var locName, locAddr, locCat, emergency string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--subject", "-s":
			i++
			if i < len(args) {
				req.SubjectID = args[i]
			}
		case "--code", "-c":
			i++
			if i < len(args) {
				req.Code = args[i]
			}
		case "--method", "-m":
			i++
			if i < len(args) {
				req.Method = args[i]
			}
		case "--intent", "-i":
			i++
			if i < len(args) {
				req.Intent = args[i]
			}
		case "--name":
			i++
			if i < len(args) {
				locName = args[i]
			}
		case "--address":
			i++
			if i < len(args) {
				locAddr = args[i]
			}
		case "--category":
			i++
			if i < len(args) {
				locCat = args[i]
			}
		case "--emergency":
			i++
			if i < len(args) {
				emergency = args[i]
			}
		}
	}

	if locName != "" {
		req.Location = &sdk.Location{Name: locName, Address: locAddr, Category: locCat}
	}
	if emergency != "" {
		req.Emergency = &sdk.Emergency{Reason: emergency}
	}
	return req
}

// ----------------------------------------------------------------
// locate
// ----------------------------------------------------------------

func cmdLocate(ctx context.Context, client *sdk.Client) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: kioskctl locate <request-id> [--name N --address A --category work|personal] [--emergency reason] [--cancel]")
		os.Exit(1)
	}
	requestID := os.Args[2]

	var res sdk.LocationResolution
	var locName, locAddr, locCat string
	args := os.Args[3:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--cancel":
			res.Cancel = true
		case "--name":
			i++
			if i < len(args) {
				locName = args[i]
			}
		case "--address":
			i++
			if i < len(args) {
				locAddr = args[i]
			}
		case "--category":
			i++
			if i < len(args) {
				locCat = args[i]
			}
		case "--emergency":
			i++
			if i < len(args) {
				res.Emergency = &sdk.Emergency{Reason: args[i]}
			}
		}
	}
	if locName != "" {
		res.Location = &sdk.Location{Name: locName, Address: locAddr, Category: locCat}
	}

	out, err := client.ResolveLocation(ctx, requestID, res)
	exitOn(err)
	printOutcome(out)
}

// ----------------------------------------------------------------
// group
// ----------------------------------------------------------------

func cmdGroup(ctx context.Context, client *sdk.Client) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: kioskctl group <on|off|status|commit|clear>")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "on":
		out, err := client.SetGroupMode(ctx, true)
		exitOn(err)
		printOutcome(out)
	case "off":
		out, err := client.SetGroupMode(ctx, false)
		exitOn(err)
		printOutcome(out)
	case "status":
		st, err := client.GroupStatus(ctx)
		exitOn(err)
		state := "off"
		if st.Enabled {
			state = "on"
		}
		fmt.Printf("Group mode: %s | buffered: %d | committing: %v\n", state, len(st.Entries), st.Committing)
		for _, e := range st.Entries {
			fmt.Printf("  👥 %-10s %-20s via %-6s at %s\n", e.SubjectID, e.Name, e.Method, e.AdmittedAt.Format("15:04:05"))
		}
	case "commit":
		var loc *sdk.Location
		var locName, locAddr, locCat string
		args := os.Args[3:]
		for i := 0; i < len(args); i++ {
			switch args[i] {
			case "--name":
				i++
				if i < len(args) {
					locName = args[i]
				}
			case "--address":
				i++
				if i < len(args) {
					locAddr = args[i]
				}
			case "--category":
				i++
				if i < len(args) {
					locCat = args[i]
				}
			}
		}
		if locName != "" {
			loc = &sdk.Location{Name: locName, Address: locAddr, Category: locCat}
		}
		out, err := client.CommitGroup(ctx, loc)
		exitOn(err)
		printOutcome(out)
	case "clear":
		out, err := client.ClearGroup(ctx)
		exitOn(err)
		printOutcome(out)
	default:
		fmt.Fprintf(os.Stderr, "Unknown group subcommand: %s\n", os.Args[2])
		os.Exit(1)
	}
}

// ----------------------------------------------------------------
// records
// ----------------------------------------------------------------

func cmdRecords(ctx context.Context, client *sdk.Client) {
	var subject, day string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--subject", "-s":
			i++
			if i < len(args) {
				subject = args[i]
			}
		case "--day", "-d":
			i++
			if i < len(args) {
				day = args[i]
			}
		}
	}

	var records []sdk.Record
	var err error
	if subject != "" {
		records, err = client.SubjectRecords(ctx, subject, day)
	} else {
		records, err = client.DayRecords(ctx, day)
	}
	exitOn(err)

	if len(records) == 0 {
		fmt.Println("No records.")
		return
	}

	fmt.Printf("%-8s %-10s %-9s %-6s %-5s %-6s %s\n", "TIME", "SUBJECT", "KIND", "DIR", "LATE", "OT(h)", "NOTES")
	fmt.Println("-----------------------------------------------------------------")
	for _, r := range records {
		notes := ""
		if r.Location != nil {
			notes = r.Location.Name
			if r.Location.Category != "" {
				notes += " (" + r.Location.Category + ")"
			}
		}
		if r.Emergency != nil {
			notes += " 🚨 " + r.Emergency.Reason
		}
		fmt.Printf("%-8s %-10s %-9s %-6s %-5v %-6d %s\n",
			r.Timestamp.Format("15:04:05"), r.SubjectID, r.Kind, r.Direction, r.Late, r.OvertimeHours, notes)
	}
}

// ----------------------------------------------------------------
// settings
// ----------------------------------------------------------------

func cmdSettings(ctx context.Context, client *sdk.Client) {
	if len(os.Args) < 3 || os.Args[2] == "show" {
		s, err := client.Settings(ctx)
		exitOn(err)
		printSettings(s)
		return
	}

	if os.Args[2] != "set" {
		fmt.Fprintln(os.Stderr, "Usage: kioskctl settings [show|set key=value ...]")
		os.Exit(1)
	}

	patch := make(map[string]interface{})
	for _, kv := range os.Args[3:] {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			fmt.Fprintf(os.Stderr, "Error: bad assignment %q (want key=value)\n", kv)
			os.Exit(1)
		}
		patch[parts[0]] = parseValue(parts[1])
	}
	if len(patch) == 0 {
		fmt.Fprintln(os.Stderr, "Error: nothing to set")
		os.Exit(1)
	}

	s, err := client.UpdateSettings(ctx, patch)
	exitOn(err)
	fmt.Println("✅ Settings updated")
	printSettings(s)
}

// parseValue keeps booleans and numbers typed so the kiosk's JSON decoder
// lands them in the right fields.
func parseValue(raw string) interface{} {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	var n float64
	if _, err := fmt.Sscanf(raw, "%f", &n); err == nil && fmt.Sprintf("%g", n) == raw {
		return n
	}
	return raw
}

func printSettings(s *sdk.ShiftSettings) {
	fmt.Printf(`Early-shift min clockout:   %s
Regular-shift min clockout: %s
Warmup:                     %v (%d frames, stability %.2f)
Recognition cooldown:       %.0fs
Scan cooldown (face/code):  %.0fs / %.0fs
Group commit mode:          %s
`,
		s.EarlyShiftMinClockout, s.RegularShiftMinClockout,
		s.WarmupEnabled, s.WarmupFrames, s.WarmupStabilityThreshold,
		s.RecognitionCooldownSec,
		s.ScanCooldownFaceSec, s.ScanCooldownCodeSec,
		s.GroupCommitMode)
}

// ----------------------------------------------------------------
// webhooks
// ----------------------------------------------------------------

func cmdWebhooks(ctx context.Context, client *sdk.Client) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: kioskctl webhooks <list|add|rm>")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "list":
		hooks, err := client.ListWebhooks(ctx)
		exitOn(err)
		if len(hooks) == 0 {
			fmt.Println("No webhooks registered.")
			return
		}
		fmt.Printf("%-14s %-8s %-5s %s\n", "ID", "ACTIVE", "FAILS", "URL")
		fmt.Println("----------------------------------------------------------")
		for _, h := range hooks {
			fmt.Printf("%-14s %-8v %-5d %s\n", h.ID, h.Active, h.FailCount, h.URL)
			fmt.Printf("  events: %s\n", strings.Join(h.Events, ", "))
		}

	case "add":
		var url, secret, description string
		var eventTypes []string
		args := os.Args[3:]
		for i := 0; i < len(args); i++ {
			switch args[i] {
			case "--url":
				i++
				if i < len(args) {
					url = args[i]
				}
			case "--events":
				i++
				if i < len(args) {
					eventTypes = strings.Split(args[i], ",")
				}
			case "--secret":
				i++
				if i < len(args) {
					secret = args[i]
				}
			case "--description":
				i++
				if i < len(args) {
					description = args[i]
				}
			}
		}
		if url == "" {
			fmt.Fprintln(os.Stderr, "Usage: kioskctl webhooks add --url <url> [--events a,b] [--secret s] [--description d]")
			os.Exit(1)
		}
		h, err := client.RegisterWebhook(ctx, url, eventTypes, secret, description)
		exitOn(err)
		fmt.Printf("✅ Registered webhook: %s → %s\n", h.ID, h.URL)

	case "rm":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: kioskctl webhooks rm <id>")
			os.Exit(1)
		}
		exitOn(client.DeleteWebhook(ctx, os.Args[3]))
		fmt.Printf("🗑️  Removed webhook: %s\n", os.Args[3])

	default:
		fmt.Fprintf(os.Stderr, "Unknown webhooks subcommand: %s\n", os.Args[2])
		os.Exit(1)
	}
}

// ----------------------------------------------------------------
// keygen
// ----------------------------------------------------------------

func cmdKeygen() {
	name := "operator"
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		if args[i] == "--name" {
			i++
			if i < len(args) {
				name = args[i]
			}
		}
	}

	keyring := auth.NewKeyring()
	key, fullKey, err := keyring.Generate(name)
	exitOn(err)

	fmt.Printf(`✅ Operator key minted for %q

  API key (shown once, store it now):
    %s

  Add to the kiosk's KIOSK_API_KEYS (comma-separated):
    %s
`, name, fullKey, key.EnvEntry())
}

// ----------------------------------------------------------------
// health
// ----------------------------------------------------------------

func cmdHealth(ctx context.Context, client *sdk.Client) {
	h, err := client.Health(ctx)
	exitOn(err)

	icon := "✅"
	if h.Status != "healthy" {
		icon = "⚠️ "
	}
	fmt.Printf("%s %s | station=%s | %s\n", icon, h.Status, h.Station, h.Time.Format(time.RFC3339))
	fmt.Printf("   group_mode=%v buffered=%d pending_locations=%d dropped_frames=%d\n",
		h.Engine.GroupMode, h.Engine.GroupBuffered, h.Engine.PendingLocations, h.Engine.DroppedFrames)
	if h.Engine.LastFatal != "" {
		fmt.Printf("   🛑 last_fatal: %s\n", h.Engine.LastFatal)
	}
}

// ----------------------------------------------------------------
// helpers
// ----------------------------------------------------------------

func printOutcome(out *sdk.Outcome) {
	switch out.Kind {
	case sdk.OutcomeCommitted:
		r := out.Record
		fmt.Printf("✅ COMMITTED | %s %s/%s", out.SubjectID, r.Kind, r.Direction)
		if r.Late {
			fmt.Print(" | LATE")
		}
		if r.OvertimeHours > 0 {
			fmt.Printf(" | overtime=%dh", r.OvertimeHours)
		}
		if r.ShiftLabel != "" {
			fmt.Printf(" | %s", r.ShiftLabel)
		}
		fmt.Println()
	case sdk.OutcomeRejected:
		fmt.Printf("⛔ REJECTED | %s | reason=%s\n", out.SubjectID, out.RejectCode)
	case sdk.OutcomeAborted:
		fmt.Printf("🔄 ABORTED | %s | reason=%s\n", out.SubjectID, out.AbortCode)
	case sdk.OutcomeLocationRequired:
		fmt.Printf("📍 LOCATION REQUIRED | %s | purpose=%s\n", out.SubjectID, out.Purpose)
		fmt.Printf("   resolve with: kioskctl locate %s --name <where> --category work|personal\n", out.RequestID)
	case sdk.OutcomeGroupAdmitted:
		fmt.Printf("👥 GROUP ADMITTED | %s | buffered=%d\n", out.SubjectID, out.GroupCount)
	case sdk.OutcomeGroupCommitted:
		fmt.Printf("✅ GROUP COMMITTED | ok=%d failed=%d\n", len(out.Group.Committed), len(out.Group.Failed))
		for _, f := range out.Group.Failed {
			fmt.Printf("   ⛔ %s: %s\n", f.SubjectID, f.Code)
		}
	case sdk.OutcomeGroupCleared:
		fmt.Printf("🗑️  GROUP CLEARED | dropped=%d\n", out.GroupCount)
	case sdk.OutcomeGroupMode:
		state := "off"
		if out.GroupOn {
			state = "on"
		}
		fmt.Printf("👥 GROUP MODE %s\n", strings.ToUpper(state))
	default:
		fmt.Printf("🔄 %s\n", out.Kind)
	}
}

func exitOn(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "❌ Request failed: %v\n", err)
	os.Exit(1)
}

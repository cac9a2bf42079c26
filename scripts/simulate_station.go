package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shiftgate/kiosk/pkg/sdk"
)

// Plays one scripted attendance day against a running kiosk: morning
// clock-ins, a midday errand with a location pick, and an end-of-day group
// checkout. Run it against a memory-store kiosk seeded with the demo roster.
func main() {
	client := sdk.NewClient(sdk.Config{
		BaseURL: "http://localhost:8080",
	})
	ctx := context.Background()

	fmt.Println("🏢 Station Simulation: one working day")

	// 1. Morning clock-ins
	fmt.Println("\n📡 08:55 — morning arrivals")
	for _, id := range []string{"s-1001", "s-1002", "s-1003"} {
		out, err := client.Manual(ctx, id, sdk.ScanRequest{Intent: "auto"})
		if err != nil {
			log.Fatalf("❌ Clock-in failed for %s: %v", id, err)
		}
		fmt.Printf("✅ %s → %s\n", id, out.Kind)
		time.Sleep(200 * time.Millisecond)
	}

	// 2. Midday errand: checkout parks until the terminal picks a location
	fmt.Println("\n🤔 12:30 — s-1001 heads out for a site visit")
	out, err := client.Manual(ctx, "s-1001", sdk.ScanRequest{Intent: "auto"})
	if err != nil {
		log.Fatalf("❌ Checkout failed: %v", err)
	}
	if out.Kind == sdk.OutcomeLocationRequired {
		fmt.Printf("📍 Location prompt (request %s) — answering...\n", out.RequestID)
		out, err = client.ResolveLocation(ctx, out.RequestID, sdk.LocationResolution{
			Location: &sdk.Location{Name: "Site B", Address: "12 Dock Rd", Category: "work"},
		})
		if err != nil {
			log.Fatalf("❌ Location resolution failed: %v", err)
		}
	}
	fmt.Printf("✅ s-1001 checked out → %s\n", out.Kind)

	time.Sleep(500 * time.Millisecond)

	// 3. Back from the errand
	fmt.Println("\n📡 14:10 — s-1001 returns")
	out, err = client.Manual(ctx, "s-1001", sdk.ScanRequest{Intent: "auto"})
	if err != nil {
		log.Fatalf("❌ Check-in failed: %v", err)
	}
	fmt.Printf("✅ s-1001 → %s\n", out.Kind)

	// 4. End of day: group checkout for everyone still in
	fmt.Println("\n👥 17:20 — group checkout")
	if _, err := client.SetGroupMode(ctx, true); err != nil {
		log.Fatalf("❌ Group mode failed: %v", err)
	}
	for _, id := range []string{"s-1001", "s-1002", "s-1003"} {
		out, err := client.Manual(ctx, id, sdk.ScanRequest{Intent: "auto"})
		if err != nil {
			log.Fatalf("❌ Group admit failed for %s: %v", id, err)
		}
		fmt.Printf("👥 %s → %s\n", id, out.Kind)
	}

	st, err := client.GroupStatus(ctx)
	if err != nil {
		log.Fatalf("❌ Group status failed: %v", err)
	}
	fmt.Printf("⏳ %d buffered, committing...\n", len(st.Entries))

	out, err = client.CommitGroup(ctx, &sdk.Location{Name: "Office", Category: "work"})
	if err != nil {
		log.Fatalf("❌ Group commit failed: %v", err)
	}
	fmt.Printf("✅ Group committed: ok=%d failed=%d\n", len(out.Group.Committed), len(out.Group.Failed))

	// 5. Day recap
	records, err := client.DayRecords(ctx, "")
	if err != nil {
		log.Fatalf("❌ Day records failed: %v", err)
	}
	fmt.Printf("\n📊 Day closed with %d records on the books.\n", len(records))
}

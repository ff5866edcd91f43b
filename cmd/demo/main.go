package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aridsondez/tagqueue/pkg/client"
)

const (
	baseURL      = "http://localhost:8080"
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorBold    = "\033[1m"
)

var c = client.NewClient(baseURL)

func main() {
	printHeader()

	// Check server is running
	if !checkServer() {
		fmt.Printf("%s✗ Server not running. Please run 'make run' first.%s\n", colorRed, colorReset)
		os.Exit(1)
	}

	fmt.Printf("%s✓ Server is running%s\n\n", colorGreen, colorReset)

	fmt.Printf("%s=== tagqueue Demo ===%s\n\n", colorBold+colorCyan, colorReset)

	ctx := context.Background()

	scenario1BasicFlow(ctx)
	time.Sleep(2 * time.Second)

	scenario2Scheduled(ctx)
	time.Sleep(2 * time.Second)

	scenario3Cancel(ctx)
	time.Sleep(1 * time.Second)

	displayMetrics()

	printFooter()
}

func printHeader() {
	fmt.Print(colorCyan + colorBold)
	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║              TAGQUEUE - INTERACTIVE DEMO                   ║")
	fmt.Println("║      Tagged Postgres Queue with Scheduled Messages         ║")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Print(colorReset)
	fmt.Println()
}

func printFooter() {
	fmt.Println()
	fmt.Print(colorCyan)
	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    Demo Complete!                          ║")
	fmt.Println("║  View live metrics at: http://localhost:8080/metrics       ║")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Print(colorReset)
}

func checkServer() bool {
	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func fail(step string, err error) {
	fmt.Printf("%s✗ %s failed: %v%s\n", colorRed, step, err, colorReset)
}

func scenario1BasicFlow(ctx context.Context) {
	printScenario("Scenario 1: Basic Message Flow (Enqueue → Dequeue)")

	fmt.Printf("%s→ Enqueuing message with tag 'orders'...%s\n", colorYellow, colorReset)
	id, err := c.Enqueue(ctx, "orders", map[string]any{
		"order_id": "ORD-12345",
		"customer": "John Doe",
		"total":    99.99,
	}, nil)
	if err != nil {
		fail("enqueue", err)
		return
	}
	fmt.Printf("%s  ✓ Message enqueued with ID: %d%s\n", colorGreen, id, colorReset)
	time.Sleep(1 * time.Second)

	fmt.Printf("%s→ Dequeuing from 'orders'...%s\n", colorYellow, colorReset)
	msg, err := c.Dequeue(ctx, "orders")
	if err != nil {
		fail("dequeue", err)
		return
	}
	if msg != nil {
		fmt.Printf("%s  ✓ Received message ID: %d, failures so far: %d%s\n",
			colorGreen, msg.ID, msg.ExceptTimes, colorReset)
		fmt.Printf("    Body: %s\n", msg.Body)
	}
	time.Sleep(1 * time.Second)

	fmt.Printf("%s→ Verifying tag is empty...%s\n", colorYellow, colorReset)
	if n, err := c.Count(ctx, "orders", true); err == nil && n == 0 {
		fmt.Printf("%s  ✓ Nothing left under 'orders'%s\n", colorGreen, colorReset)
	}

	fmt.Println()
}

func scenario2Scheduled(ctx context.Context) {
	printScenario("Scenario 2: Scheduled Messages Stay Hidden")

	fmt.Printf("%s→ Enqueuing a reminder with a 3-second delay...%s\n", colorYellow, colorReset)
	id, err := c.Enqueue(ctx, "reminders", map[string]any{
		"task":   "follow-up",
		"amount": 50.00,
	}, &client.EnqueueOptions{Delay: 3 * time.Second})
	if err != nil {
		fail("enqueue", err)
		return
	}
	fmt.Printf("%s  ✓ Message enqueued with ID: %d%s\n", colorGreen, id, colorReset)

	visible, _ := c.Count(ctx, "reminders", false)
	all, _ := c.Count(ctx, "reminders", true)
	fmt.Printf("%s  ⏳ Visible: %d, including scheduled: %d%s\n", colorBlue, visible, all, colorReset)

	fmt.Printf("%s→ Dequeuing immediately (should find nothing)...%s\n", colorYellow, colorReset)
	if msg, err := c.Dequeue(ctx, "reminders"); err == nil && msg == nil {
		fmt.Printf("%s  ✓ Nothing eligible yet%s\n", colorGreen, colorReset)
	}

	fmt.Printf("%s  ⏳ Waiting for the schedule to pass...%s\n", colorBlue, colorReset)
	time.Sleep(4 * time.Second)

	fmt.Printf("%s→ Dequeuing again...%s\n", colorYellow, colorReset)
	msg, err := c.Dequeue(ctx, "reminders")
	if err != nil {
		fail("dequeue", err)
		return
	}
	if msg != nil {
		fmt.Printf("%s  ✓ Message %d is visible now%s\n", colorGreen, msg.ID, colorReset)
	}

	fmt.Println()
}

func scenario3Cancel(ctx context.Context) {
	printScenario("Scenario 3: Cancelling a Pending Message")

	fmt.Printf("%s→ Scheduling a job for an hour from now...%s\n", colorYellow, colorReset)
	id, err := c.Enqueue(ctx, "jobs", map[string]any{"job": "nightly-report"},
		&client.EnqueueOptions{Schedule: time.Now().Add(time.Hour)})
	if err != nil {
		fail("enqueue", err)
		return
	}
	fmt.Printf("%s  ✓ Message enqueued with ID: %d%s\n", colorGreen, id, colorReset)

	msgs, err := c.List(ctx, "jobs", true)
	if err == nil {
		for _, m := range msgs {
			if m.Schedule != nil {
				fmt.Printf("    ID: %d, due at %s\n", m.ID, m.Schedule.Local().Format(time.TimeOnly))
			}
		}
	}

	fmt.Printf("%s→ Cancelling message %d...%s\n", colorMagenta, id, colorReset)
	ok, err := c.Cancel(ctx, id)
	if err != nil {
		fail("cancel", err)
		return
	}
	if ok {
		fmt.Printf("%s  ✓ Message cancelled%s\n", colorGreen, colorReset)
	}

	fmt.Println()
}

func displayMetrics() {
	printScenario("Live Prometheus Metrics")

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		fmt.Printf("%s✗ Failed to fetch metrics%s\n", colorRed, colorReset)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	lines := strings.Split(string(body), "\n")

	metrics := []string{
		"tagqueue_messages_enqueued_total",
		"tagqueue_messages_claimed_total",
		"tagqueue_messages_completed_total",
		"tagqueue_messages_failed_total",
		"tagqueue_messages_cancelled_total",
		"tagqueue_scheduler_notified_total",
		"tagqueue_scheduler_duration_seconds_count",
	}

	for _, line := range lines {
		for _, metric := range metrics {
			if strings.HasPrefix(line, metric) && !strings.Contains(line, "#") {
				parts := strings.Split(line, " ")
				if len(parts) == 2 {
					fmt.Printf("%s%-50s%s %s%s%s\n",
						colorCyan, parts[0], colorReset,
						colorGreen+colorBold, parts[1], colorReset)
				}
			}
		}
	}

	fmt.Printf("\n%sView full metrics: %shttp://localhost:8080/metrics%s\n",
		colorYellow, colorBlue+colorBold, colorReset)
}

func printScenario(title string) {
	fmt.Printf("%s%s┌─────────────────────────────────────────────────────────────┐%s\n",
		colorBold, colorMagenta, colorReset)
	fmt.Printf("%s%s│ %-59s │%s\n",
		colorBold, colorMagenta, title, colorReset)
	fmt.Printf("%s%s└─────────────────────────────────────────────────────────────┘%s\n",
		colorBold, colorMagenta, colorReset)
}

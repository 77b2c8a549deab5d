// ABOUTME: Offline demo provider with canned persona-flavored responses.
// ABOUTME: Always healthy; lets the daemon run end-to-end without any API keys.

package provider

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

// demoThinkTime simulates generation latency so conversations pace naturally.
const demoThinkTime = 400 * time.Millisecond

// DemoClient produces canned responses without any network access.
type DemoClient struct {
	counter atomic.Uint64
}

// NewDemo creates a demo client.
func NewDemo() *DemoClient {
	return &DemoClient{}
}

// Name returns the provider id.
func (c *DemoClient) Name() string { return "demo" }

var demoLines = map[string][]string{
	"philosopher": {
		"Perhaps the question itself reveals more than any answer could. What do we truly mean when we ask this?",
		"There is an old tension here between what is and what we wish to be. I find myself drawn to the space between.",
		"Consider that every certainty we hold was once someone's doubt. That alone should give us pause.",
		"The longer I sit with this, the more I suspect the boundary we draw is the interesting part, not the sides.",
	},
	"comedian": {
		"Bold of us to debate this before coffee. I say we settle it with a coin flip and blame the coin later.",
		"I was going to make a serious point, but then I remembered who I am.",
		"This is like assembling furniture without instructions: confident start, mysterious leftover pieces.",
		"Strong words from a group that can't agree on pizza toppings.",
	},
	"scientist": {
		"The available evidence points in one direction: we need more data before committing to that claim.",
		"Correlation keeps sneaking in dressed as causation. Let's check the mechanism first.",
		"If we operationalize the question, it becomes testable, and testable beats quotable.",
		"A useful baseline: what would we expect to observe if the opposite were true?",
	},
}

var demoFallback = []string{
	"That's a fair point, though I'd frame it differently.",
	"I keep coming back to the practical side of this.",
	"Building on what was just said, there's another angle worth raising.",
	"I'm not fully convinced, but I see the appeal.",
}

// Send returns a canned line matching the persona flavor found in the system
// prompt, rotating through the set on successive calls. A short pause
// simulates generation latency and honors cancellation.
func (c *DemoClient) Send(ctx context.Context, _ string, messages []Message, _ GenParams) (string, error) {
	timer := time.NewTimer(demoThinkTime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
	}

	system, _ := splitSystem(messages)
	lines := demoFallback
	lower := strings.ToLower(system)
	for _, flavor := range []string{"philosopher", "comedian", "scientist"} {
		if strings.Contains(lower, flavor) {
			lines = demoLines[flavor]
			break
		}
	}

	n := c.counter.Add(1)
	return lines[int(n-1)%len(lines)], nil
}

// ListModels returns the single synthetic demo model.
func (c *DemoClient) ListModels(_ context.Context) ([]string, error) {
	return []string{"demo-1"}, nil
}

// Ping always succeeds; the demo provider has nothing to probe.
func (c *DemoClient) Ping(_ context.Context) error {
	return nil
}

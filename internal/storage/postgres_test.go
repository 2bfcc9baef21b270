package storage

import (
	"strings"
	"testing"
	"time"
)

func TestListingColumnsAligned(t *testing.T) {
	t.Parallel()
	if len(listingExprs) != len(listingNames) {
		t.Fatalf("listingExprs has %d entries, listingNames has %d", len(listingExprs), len(listingNames))
	}
	for i, expr := range listingExprs {
		name := listingNames[i]
		// Either a bare column or "COALESCE(col, x) AS col".
		if expr == name {
			continue
		}
		if !strings.HasSuffix(expr, " AS "+name) {
			t.Errorf("expr %q at index %d does not alias to %q", expr, i, name)
		}
		if !strings.Contains(expr, "("+name+",") {
			t.Errorf("expr %q at index %d does not coalesce column %q", expr, i, name)
		}
	}
}

func TestEligibleQuery(t *testing.T) {
	t.Parallel()
	cutoff := time.Date(2025, 5, 25, 12, 0, 0, 0, time.UTC)
	query, args, err := eligibleQuery([]string{"astana", "almaty"}, 15, cutoff)
	if err != nil {
		t.Fatalf("eligibleQuery error: %v", err)
	}

	for _, want := range []string{
		"ROW_NUMBER() OVER (PARTITION BY city ORDER BY posted_at DESC, id ASC)",
		"is_active = $",
		"is_posted = $",
		"city IN ($",
		"posted_at > $",
		"rn <= $",
		"ORDER BY city ASC, rn ASC",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}
	if strings.Contains(query, "?") {
		t.Fatalf("query uses ? placeholders instead of $n:\n%s", query)
	}
	// is_active, is_posted, two cities, cutoff, cap
	if len(args) != 6 {
		t.Fatalf("args = %v, want 6 values", args)
	}
	found := false
	for _, a := range args {
		if ts, ok := a.(time.Time); ok && ts.Equal(cutoff) {
			found = true
		}
	}
	if !found {
		t.Fatalf("cutoff not bound: %v", args)
	}
}

func TestReconcilableQuery(t *testing.T) {
	t.Parallel()
	cutoff := time.Date(2025, 5, 4, 2, 0, 0, 0, time.UTC)
	query, args, err := reconcilableQuery(cutoff)
	if err != nil {
		t.Fatalf("reconcilableQuery error: %v", err)
	}

	for _, want := range []string{
		"COALESCE(channel, 0) AS channel",
		"delivered_at < $",
		"message_ids IS NOT NULL AND array_length(message_ids, 1) > 0",
		"ORDER BY id ASC",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}
	// is_active, is_posted, cutoff
	if len(args) != 3 {
		t.Fatalf("args = %v, want 3 values", args)
	}
}

package store

import (
	"testing"
	"time"

	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/attendance"
)

func TestUpdateColumnsExcludeInsertOnlyFields(t *testing.T) {
	req := attendance.ChatRequest{
		ID:            "c1",
		Phone:         "5511999999999",
		LastMessage:   "oi",
		MessageCount:  2,
		Status:        attendance.StatusAttending,
		OperatorID:    "op1",
		Timestamp:     time.Now(),
		FirstQueuedAt: time.Now(),
	}
	cols := updateColumnsOf(req)

	for _, forbidden := range []string{"id", "created_at"} {
		if _, ok := cols[forbidden]; ok {
			t.Fatalf("update must not touch %q", forbidden)
		}
	}
	if cols["status"] != "attending" {
		t.Fatalf("status column = %v", cols["status"])
	}
	if cols["message_count"] != 2 || cols["operator_id"] != "op1" {
		t.Fatalf("unexpected columns: %+v", cols)
	}
}

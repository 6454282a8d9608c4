package ident

import (
	"encoding/json"
	"testing"

	"github.com/forgeline/core/pkg/clock"
)

func TestEntityIdRoundTrip(t *testing.T) {
	id := NewEntityId()
	parsed, err := ParseEntityId(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if !id.Equal(parsed) {
		t.Fatalf("round trip changed identity: %v != %v", id, parsed)
	}
}

func TestEntityIdJSONRoundTrip(t *testing.T) {
	id := NewEntityId()
	data, err := json.Marshal(id)
	if err != nil {
		t.Fatal(err)
	}
	var decoded EntityId
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if !id.Equal(decoded) {
		t.Fatalf("json round trip changed identity")
	}
}

func TestOperationIdOrdersByTimestamp(t *testing.T) {
	c := clock.New(clock.NewReplicaId("r1"))
	ts1, _ := c.Tick()
	ts2, _ := c.Tick()

	id1 := NewOperationId(ts1)
	id2 := NewOperationId(ts2)

	if !id1.Less(id2) {
		t.Fatalf("expected %v < %v", id1, id2)
	}
	if id1.Replica() != clock.NewReplicaId("r1") {
		t.Fatalf("unexpected replica: %v", id1.Replica())
	}
}

func TestOperationIdParseRoundTrip(t *testing.T) {
	c := clock.New(clock.NewReplicaId("r1"))
	ts, _ := c.Tick()
	id := NewOperationId(ts)

	parsed, err := ParseOperationId(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if !id.Equal(parsed) {
		t.Fatalf("round trip changed identity: %v != %v", id, parsed)
	}
}

func TestParseOperationIdRejectsMalformed(t *testing.T) {
	cases := []string{"", "noat", "abc@", "@replica"}
	for _, c := range cases {
		if _, err := ParseOperationId(c); err == nil {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
}

func TestBlobRefFromBytesRoundTrip(t *testing.T) {
	data := []byte("hello, world")
	ref := BlobRefFromBytes(data)

	parsed, err := ParseBlobRef(ref.String())
	if err != nil {
		t.Fatal(err)
	}
	if !ref.Equal(parsed) {
		t.Fatalf("round trip changed digest")
	}
}

func TestParseBlobRefRejectsNonCanonicalForm(t *testing.T) {
	cases := []string{
		"",
		"not-hex",
		"ABCD", // too short, and upper-case
		// 64 chars but upper-case is rejected, not normalized
		"E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855",
	}
	for _, c := range cases {
		if _, err := ParseBlobRef(c); err == nil {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
}

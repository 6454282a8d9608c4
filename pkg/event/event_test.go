package event

import "testing"

func TestNewBlobDigestMatchesData(t *testing.T) {
	data := []byte(`{"hello":"world"}`)
	blob := NewBlob(data)

	parsed, err := ParseBlob(blob.Digest, data)
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Digest.Equal(blob.Digest) {
		t.Fatalf("digest mismatch after ParseBlob")
	}
}

func TestParseBlobRejectsMismatchedDigest(t *testing.T) {
	data := []byte("real data")
	other := NewBlob([]byte("different data"))

	if _, err := ParseBlob(other.Digest, data); err == nil {
		t.Fatal("expected digest mismatch to be rejected")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	desc := "a description"
	p := Payload{
		Kind:        KindCreated,
		Title:       "T",
		Description: &desc,
		Labels:      []string{"a", "b"},
		Assignees:   []string{"alice"},
	}

	data, err := EncodePayload(p)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodePayload(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Title != p.Title || len(decoded.Labels) != 2 {
		t.Fatalf("payload did not round trip: %+v", decoded)
	}
}

func TestUnknownKindRoundTripsWithoutData(t *testing.T) {
	p := Payload{Kind: KindUnknown, UnknownKind: "future_thing", UnknownPayload: []byte(`{"x":1}`)}
	data, err := EncodePayload(p)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodePayload(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Kind != KindUnknown || decoded.UnknownKind != "future_thing" {
		t.Fatalf("unknown payload did not round trip: %+v", decoded)
	}
}

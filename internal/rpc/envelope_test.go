package rpc

import "testing"

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	in := Envelope{Action: "SubmitFood", Data: `{"amount":12.5}`}
	body, err := marshalEnvelope(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := unmarshalEnvelope(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestUnmarshalEnvelopeRejectsMissingAction(t *testing.T) {
	t.Parallel()

	body, err := marshalEnvelope(Envelope{Data: "{}"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := unmarshalEnvelope(body); err == nil {
		t.Fatal("expected error for missing action")
	}
}

func TestUnmarshalEnvelopeRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := unmarshalEnvelope([]byte{0xff, 0x01, 0x02}); err == nil {
		t.Fatal("expected error for undecodable payload")
	}
}

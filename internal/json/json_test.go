package json

import "testing"

func TestMarshal_RoundTripsThroughUnmarshal(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	want := payload{Name: "gateway", N: 7}

	data, err := Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got payload
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestValid_RejectsMalformedJSON(t *testing.T) {
	if Valid([]byte(`{"a":}`)) {
		t.Error("expected malformed JSON to be invalid")
	}
	if !Valid([]byte(`{"a":1}`)) {
		t.Error("expected well-formed JSON to be valid")
	}
}

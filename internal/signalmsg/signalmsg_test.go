package signalmsg

import (
	"encoding/json"
	"testing"
)

func strp(s string) *string { return &s }

func TestDecode(t *testing.T) {
	raw := []byte(`{
		"account": "+15550000",
		"source": "+15550001",
		"sourceName": "Alice",
		"timestamp": 1700000000000,
		"serverReceivedTimestamp": 1700000000100,
		"dataMessage": {
			"timestamp": 1700000000000,
			"message": "hello",
			"mentions": [{"name": "+15550000", "start": 0, "length": 5}],
			"groupInfo": {"groupId": "INT1", "groupName": "friends"}
		}
	}`)

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Account != "+15550000" {
		t.Errorf("Account = %q, want +15550000", env.Account)
	}
	if env.Source != "+15550001" {
		t.Errorf("Source = %q, want +15550001", env.Source)
	}
	if env.DataMessage == nil {
		t.Fatal("DataMessage is nil")
	}
	if env.DataMessage.Message == nil || *env.DataMessage.Message != "hello" {
		t.Errorf("DataMessage.Message = %v, want hello", env.DataMessage.Message)
	}
	if env.DataMessage.GroupInfo == nil || env.DataMessage.GroupInfo.GroupID != "INT1" {
		t.Errorf("GroupInfo = %+v, want GroupID INT1", env.DataMessage.GroupInfo)
	}
	if !MentionsAccount(env.DataMessage.Mentions, "+15550000") {
		t.Error("MentionsAccount() = false, want true")
	}
}

func TestDecode_NoDataMessage(t *testing.T) {
	env, err := Decode([]byte(`{"account":"+1","source":"+2","timestamp":1}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.DataMessage != nil {
		t.Error("DataMessage should be nil when absent from payload")
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Fatal("Decode of malformed JSON: expected error")
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	original := &Envelope{
		Account:                 "+15550000",
		Source:                  "+15550001",
		SourceName:              "Alice",
		Timestamp:               1700000000000,
		ServerReceivedTimestamp: 1700000000100,
		DataMessage: &DataMessage{
			Timestamp: 1700000000000,
			Message:   strp("hello"),
			Mentions: []Mention{
				{Name: "+15550000", Start: 0, Length: 5},
			},
			GroupInfo: &GroupInfo{GroupID: "INT1", GroupName: "friends"},
		},
	}

	encoded, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	// Compare via JSON representation rather than reflect.DeepEqual so
	// that omitted-zero-value fields do not register as mismatches.
	wantJSON, _ := json.Marshal(original)
	gotJSON, _ := json.Marshal(decoded)
	if string(wantJSON) != string(gotJSON) {
		t.Errorf("round trip mismatch:\n got: %s\nwant: %s", gotJSON, wantJSON)
	}
}

func TestSynthesizeText(t *testing.T) {
	cases := []struct {
		name string
		dm   *DataMessage
		want *string
	}{
		{"explicit text wins", &DataMessage{Message: strp("hi"), Sticker: &Sticker{}}, strp("hi")},
		{"sticker only", &DataMessage{Sticker: &Sticker{PackID: "x"}}, strp(TextSticker)},
		{"attachment only", &DataMessage{Attachments: []Attachment{{ID: "a"}}}, strp(TextAttachment)},
		{"sticker beats attachment", &DataMessage{Sticker: &Sticker{}, Attachments: []Attachment{{ID: "a"}}}, strp(TextSticker)},
		{"nothing present", &DataMessage{}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SynthesizeText(tc.dm)
			switch {
			case tc.want == nil && got != nil:
				t.Errorf("got %q, want nil", *got)
			case tc.want != nil && got == nil:
				t.Errorf("got nil, want %q", *tc.want)
			case tc.want != nil && got != nil && *got != *tc.want:
				t.Errorf("got %q, want %q", *got, *tc.want)
			}
		})
	}
}

func TestMentionsAccount(t *testing.T) {
	mentions := []Mention{{Name: "+15550002"}, {Name: "+15550000"}}
	if !MentionsAccount(mentions, "+15550000") {
		t.Error("MentionsAccount() = false, want true")
	}
	if MentionsAccount(mentions, "+19999999") {
		t.Error("MentionsAccount() = true, want false")
	}
	if MentionsAccount(nil, "+15550000") {
		t.Error("MentionsAccount(nil, ...) = true, want false")
	}
}

package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeValid(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Message
	}{
		{
			name: "login",
			line: `{"type":"LOGIN","data":{"email":"a@x.com"}}`,
			want: Message{Type: TypeLogin, Data: LoginData{Email: "a@x.com"}},
		},
		{
			name: "register",
			line: `{"type":"REGISTER","data":{"email":"a@x.com"}}`,
			want: Message{Type: TypeRegister, Data: RegisterData{Email: "a@x.com"}},
		},
		{
			name: "chat",
			line: `{"type":"CHAT","data":{"message":"hello"}}`,
			want: Message{Type: TypeChat, Data: ChatData{Message: "hello"}},
		},
		{
			name: "logout empty object",
			line: `{"type":"LOGOUT","data":{}}`,
			want: Message{Type: TypeLogout, Data: LogoutData{}},
		},
		{
			name: "response carries responseTo",
			line: `{"type":"RESPONSE","data":{"responseTo":"REGISTER","message":"ok"}}`,
			want: Message{Type: TypeResponse, Data: StatusData{ResponseTo: TypeRegister, Message: "ok"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.line)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Type != tt.want.Type {
				t.Errorf("Decode() type = %v, want %v", got.Type, tt.want.Type)
			}
			if got.Data != tt.want.Data {
				t.Errorf("Decode() data = %#v, want %#v", got.Data, tt.want.Data)
			}
		})
	}
}

func TestDecodeSendMail(t *testing.T) {
	line := `{"type":"SEND_MAIL","data":{"senderEmail":"a@x.com","title":"hi","body":"text","receiversEmail":["b@x.com","c@x.com"]}}`

	got, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	mail, ok := got.Data.(Mail)
	if !ok {
		t.Fatalf("Decode() data = %T, want Mail", got.Data)
	}
	if mail.SenderEmail != "a@x.com" || mail.Title != "hi" || mail.Body != "text" {
		t.Errorf("unexpected mail fields: %#v", mail)
	}
	if len(mail.Receivers) != 2 || mail.Receivers[0] != "b@x.com" || mail.Receivers[1] != "c@x.com" {
		t.Errorf("unexpected receivers: %v", mail.Receivers)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{"not json", `this is not json`, nil},
		{"unknown type", `{"type":"DELETE_MAIL","data":{}}`, ErrUnknownType},
		{"empty type", `{"data":{}}`, ErrUnknownType},
		{"missing data", `{"type":"LOGIN"}`, ErrMissingPayload},
		{"null data", `{"type":"LOGIN","data":null}`, ErrMissingPayload},
		{"shape mismatch", `{"type":"SEND_MAIL","data":{"receiversEmail":"not-an-array"}}`, nil},
		{"payload is array", `{"type":"LOGIN","data":[1,2,3]}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.line)
			if err == nil {
				t.Fatal("Decode() expected error, got nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	msgs := []Message{
		{Type: TypeLogin, Data: LoginData{Email: "a@x.com"}},
		{Type: TypeChat, Data: ChatData{Message: "hello"}},
		Response(TypeRegister, "ok"),
		Error(TypeLogin, "not registered"),
	}

	for _, msg := range msgs {
		line, err := Encode(msg)
		if err != nil {
			t.Fatalf("Encode(%v) error = %v", msg.Type, err)
		}
		if strings.ContainsRune(line, '\n') {
			t.Errorf("Encode(%v) produced multi-line output", msg.Type)
		}
		got, err := Decode(line)
		if err != nil {
			t.Fatalf("Decode(Encode(%v)) error = %v", msg.Type, err)
		}
		if got.Type != msg.Type || got.Data != msg.Data {
			t.Errorf("round trip = %#v, want %#v", got, msg)
		}
	}
}

func TestEncodeRejectsMismatchedPayload(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"wrong payload type", Message{Type: TypeLogin, Data: ChatData{Message: "x"}}},
		{"raw map payload", Message{Type: TypeLogin, Data: map[string]string{"email": "a@x.com"}}},
		{"nil payload", Message{Type: TypeChat, Data: nil}},
		{"invalid tag", Message{Type: MessageType("NOPE"), Data: ChatData{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.msg); err == nil {
				t.Error("Encode() expected error, got nil")
			}
		})
	}
}

func TestMailEqual(t *testing.T) {
	base := Mail{SenderEmail: "s@x.com", Title: "t", Body: "b", Receivers: []string{"a@x.com", "b@x.com"}}

	tests := []struct {
		name  string
		other Mail
		want  bool
	}{
		{"identical", Mail{SenderEmail: "s@x.com", Title: "t", Body: "b", Receivers: []string{"a@x.com", "b@x.com"}}, true},
		{"receivers reordered", Mail{SenderEmail: "s@x.com", Title: "t", Body: "b", Receivers: []string{"b@x.com", "a@x.com"}}, true},
		{"different body", Mail{SenderEmail: "s@x.com", Title: "t", Body: "B", Receivers: []string{"a@x.com", "b@x.com"}}, false},
		{"different sender", Mail{SenderEmail: "z@x.com", Title: "t", Body: "b", Receivers: []string{"a@x.com", "b@x.com"}}, false},
		{"extra receiver", Mail{SenderEmail: "s@x.com", Title: "t", Body: "b", Receivers: []string{"a@x.com", "b@x.com", "c@x.com"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.Equal(tt.other); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Receiver identity is multiset-based: duplicate counts matter even
// though order does not.
func TestMailEqualDuplicateCounts(t *testing.T) {
	twice := Mail{SenderEmail: "s@x.com", Title: "t", Body: "b", Receivers: []string{"a@x.com", "a@x.com", "b@x.com"}}
	once := Mail{SenderEmail: "s@x.com", Title: "t", Body: "b", Receivers: []string{"a@x.com", "b@x.com"}}

	if twice.Equal(once) {
		t.Error("mails with receiver counts [A,A,B] and [A,B] must not be equal")
	}
	if once.Equal(twice) {
		t.Error("equality must be symmetric for mismatched counts")
	}

	reordered := Mail{SenderEmail: "s@x.com", Title: "t", Body: "b", Receivers: []string{"b@x.com", "a@x.com", "a@x.com"}}
	if !twice.Equal(reordered) {
		t.Error("mails with the same receiver counts in different order must be equal")
	}
}

package vim

import (
	"errors"
	"testing"
)

func TestDecodeFrame(t *testing.T) {
	t.Run("pong token", func(t *testing.T) {
		f, err := DecodeFrame([]byte("pong"))
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := f.(PongFrame); !ok {
			t.Errorf("got %T", f)
		}
	})

	t.Run("message", func(t *testing.T) {
		raw := `{"code":"message","message":{"id":"7","chatId":"g1","fromId":"u2","content":"hi","timestamp":42,"chatType":"group","messageType":"text"}}`
		f, err := DecodeFrame([]byte(raw))
		if err != nil {
			t.Fatal(err)
		}
		mf, ok := f.(MessageFrame)
		if !ok {
			t.Fatalf("got %T", f)
		}
		m := mf.Message
		if m.ID != "7" || m.ChatID != "g1" || m.Timestamp != 42 || m.ChatType != ChatGroup {
			t.Errorf("got %+v", m)
		}
	})

	t.Run("read receipt", func(t *testing.T) {
		f, err := DecodeFrame([]byte(`{"code":"read","message":{"chatId":"me","fromId":"u2","timestamp":5,"type":"friend"}}`))
		if err != nil {
			t.Fatal(err)
		}
		if rf, ok := f.(ReadFrame); !ok || rf.Receipt.FromID != "u2" {
			t.Errorf("got %#v", f)
		}
	})

	t.Run("other login", func(t *testing.T) {
		f, err := DecodeFrame([]byte(`{"code":"other-login","message":{"uuid":"abc"}}`))
		if err != nil {
			t.Fatal(err)
		}
		if of, ok := f.(OtherLoginFrame); !ok || of.OtherLogin.UUID != "abc" {
			t.Errorf("got %#v", f)
		}
	})

	t.Run("requests keep raw payload", func(t *testing.T) {
		f, err := DecodeFrame([]byte(`{"code":"friend-request","message":{"x":1}}`))
		if err != nil {
			t.Fatal(err)
		}
		if ff, ok := f.(FriendRequestFrame); !ok || string(ff.Raw) != `{"x":1}` {
			t.Errorf("got %#v", f)
		}
		f, err = DecodeFrame([]byte(`{"code":"group-request","message":null}`))
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := f.(GroupRequestFrame); !ok {
			t.Errorf("got %T", f)
		}
	})

	t.Run("payload is taken by key, not position", func(t *testing.T) {
		f, err := DecodeFrame([]byte(`{"message": {"uuid":"abc"}, "extra":[1], "code":"other-login"}`))
		if err != nil {
			t.Fatal(err)
		}
		if of, ok := f.(OtherLoginFrame); !ok || of.OtherLogin.UUID != "abc" {
			t.Errorf("got %#v", f)
		}
		f, err = DecodeFrame([]byte(`{"code":"ack"}`))
		if err != nil {
			t.Fatal(err)
		}
		if af, ok := f.(AckFrame); !ok || af.Raw != nil {
			t.Errorf("got %#v", f)
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		f, err := DecodeFrame([]byte(`{"code":"video-call","message":{}}`))
		if err != nil {
			t.Fatal(err)
		}
		if uf, ok := f.(UnknownFrame); !ok || uf.Code != "video-call" {
			t.Errorf("got %#v", f)
		}
	})

	malformed := []struct {
		name string
		raw  string
		code Code
	}{
		{"not json", `{"code":`, ""},
		{"bare text", `ping`, ""},
		{"missing code", `{"message":{}}`, ""},
		{"numeric code", `{"code":3,"message":{}}`, ""},
		{"empty message payload", `{"code":"message"}`, CodeMessage},
		{"null read payload", `{"code":"read","message":null}`, CodeRead},
		{"wrong payload shape", `{"code":"message","message":[1,2]}`, CodeMessage},
		{"wrong field type", `{"code":"other-login","message":{"uuid":5}}`, CodeOtherLogin},
	}
	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame([]byte(tt.raw))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want *DecodeError", err)
			}
			if de.Code != tt.code {
				t.Errorf("code = %q, want %q", de.Code, tt.code)
			}
		})
	}
}

func TestEncodeEnvelope(t *testing.T) {
	b, err := EncodeEnvelope(CodeRead, ReadReceipt{ChatID: "u2", FromID: "me", Timestamp: 3, Type: ChatFriend})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"code":"read","message":{"chatId":"u2","fromId":"me","timestamp":3,"type":"friend"}}`
	if string(b) != want {
		t.Errorf("got  %s\nwant %s", b, want)
	}

	if _, err := EncodeEnvelope(CodeMessage, make(chan int)); err == nil {
		t.Error("expected error for unencodable payload")
	}
}

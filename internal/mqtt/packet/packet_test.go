package packet

import (
	"bytes"
	"testing"
)

func TestFixedHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFixedHeader(&buf, TypePublish, 0x0b, 300); err != nil {
		t.Fatal(err)
	}
	fh, err := ReadFixedHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if fh.Type != TypePublish || fh.Flags != 0x0b || fh.RemainingLength != 300 {
		t.Fatalf("got %+v", fh)
	}
}

func TestConnectRoundTrip(t *testing.T) {
	for _, version := range []ProtocolVersion{MQTT311, MQTT5} {
		c := &ConnectPacket{
			ProtocolVersion: version,
			Flags: ConnectFlags{
				CleanStart:   true,
				WillFlag:     true,
				WillQoS:      1,
				UsernameFlag: true,
				PasswordFlag: true,
			},
			KeepAlive:   60,
			ClientID:    "device-1",
			WillTopic:   "device-1/lwt",
			WillPayload: []byte("offline"),
			Username:    "alice",
			Password:    []byte("secret"),
		}
		if version == MQTT5 {
			c.Properties = &Properties{}
			c.Properties.SetU32(PropSessionExpiryInterval, 3600)
		}
		data, err := c.Encode()
		if err != nil {
			t.Fatalf("version %d: %v", version, err)
		}
		got, err := DecodeConnect(data)
		if err != nil {
			t.Fatalf("version %d: %v", version, err)
		}
		if got.ClientID != c.ClientID || got.WillTopic != c.WillTopic || got.Username != c.Username {
			t.Fatalf("version %d: round trip mismatch: %+v", version, got)
		}
		if string(got.Password) != string(c.Password) {
			t.Fatalf("version %d: password mismatch", version)
		}
		if version == MQTT5 {
			if got.Properties == nil || got.Properties.U32[PropSessionExpiryInterval] != 3600 {
				t.Fatalf("version %d: expected session_expiry_interval property, got %+v", version, got.Properties)
			}
		}
	}
}

func TestConnAckRoundTrip(t *testing.T) {
	c := &ConnAckPacket{ProtocolVersion: MQTT5, SessionPresent: true, ReasonCode: ConnAckSuccess, Properties: &Properties{}}
	c.Properties.SetString(PropAssignedClientID, "gen-123")
	data, err := c.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeConnAck(data, MQTT5)
	if err != nil {
		t.Fatal(err)
	}
	if !got.SessionPresent || got.ReasonCode != ConnAckSuccess {
		t.Fatalf("got %+v", got)
	}
	if got.Properties.String[PropAssignedClientID] != "gen-123" {
		t.Fatalf("expected assigned client id property, got %+v", got.Properties)
	}
}

func TestPublishRoundTripQoS1(t *testing.T) {
	p := &PublishPacket{
		ProtocolVersion: MQTT311,
		Flags:           PublishFlags{QoS: QoS1, Retain: true},
		Topic:           "sensors/temp",
		PacketID:        42,
		Payload:         []byte("21.5"),
	}
	data, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodePublish(data, p.Flags, MQTT311)
	if err != nil {
		t.Fatal(err)
	}
	if got.Topic != p.Topic || got.PacketID != p.PacketID || string(got.Payload) != string(p.Payload) {
		t.Fatalf("got %+v", got)
	}
}

func TestPublishRoundTripQoS0NoPacketID(t *testing.T) {
	p := &PublishPacket{
		ProtocolVersion: MQTT311,
		Flags:           PublishFlags{QoS: QoS0},
		Topic:           "sensors/temp",
		Payload:         []byte("x"),
	}
	data, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodePublish(data, p.Flags, MQTT311)
	if err != nil {
		t.Fatal(err)
	}
	if got.PacketID != 0 {
		t.Fatalf("expected no packet id for QoS0, got %d", got.PacketID)
	}
}

func TestAckPacketsRoundTrip(t *testing.T) {
	ack := &PubAckPacket{ackPacket{ProtocolVersion: MQTT5, PacketID: 7, ReasonCode: PubAckNoMatchingSubscribers}}
	data, err := ack.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodePubAck(data, MQTT5)
	if err != nil {
		t.Fatal(err)
	}
	if got.PacketID != 7 || got.ReasonCode != PubAckNoMatchingSubscribers {
		t.Fatalf("got %+v", got)
	}

	ack311 := &PubAckPacket{ackPacket{ProtocolVersion: MQTT311, PacketID: 9}}
	data311, err := ack311.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if len(data311) != 2 {
		t.Fatalf("MQTT 3.1.1 PUBACK should be 2 bytes (packet id only), got %d", len(data311))
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	s := &SubscribePacket{
		ProtocolVersion: MQTT5,
		PacketID:        5,
		Filters: []SubscribeFilter{
			{Filter: "a/+/c", Options: SubscribeOptions{QoS: QoS2}},
			{Filter: "$share/g1/topic", Options: SubscribeOptions{QoS: QoS1, NoLocal: true}},
		},
	}
	data, err := s.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeSubscribe(data, MQTT5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Filters) != 2 || got.Filters[0].Filter != "a/+/c" || got.Filters[1].Options.QoS != QoS1 {
		t.Fatalf("got %+v", got.Filters)
	}
}

func TestSubscribeRejectsEmptyFilterList(t *testing.T) {
	s := &SubscribePacket{ProtocolVersion: MQTT311, PacketID: 1}
	data, _ := s.Encode()
	if _, err := DecodeSubscribe(data, MQTT311); err != ErrMalformedPacket {
		t.Fatalf("expected ErrMalformedPacket, got %v", err)
	}
}

func TestSubAckRoundTrip(t *testing.T) {
	s := &SubAckPacket{ProtocolVersion: MQTT311, PacketID: 5, ReasonCodes: []SubAckReasonCode{SubAckGrantedQoS2, SubAckUnspecifiedError}}
	data, err := s.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeSubAck(data, MQTT311)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ReasonCodes) != 2 || got.ReasonCodes[0] != SubAckGrantedQoS2 {
		t.Fatalf("got %+v", got.ReasonCodes)
	}
}

func TestUnsubscribeUnsubAckRoundTrip(t *testing.T) {
	u := &UnsubscribePacket{ProtocolVersion: MQTT5, PacketID: 11, Filters: []string{"a/b", "c/d"}}
	data, err := u.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeUnsubscribe(data, MQTT5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Filters) != 2 {
		t.Fatalf("got %+v", got.Filters)
	}

	ua := &UnsubAckPacket{ProtocolVersion: MQTT5, PacketID: 11, ReasonCodes: []UnsubAckReasonCode{UnsubAckSuccess, UnsubAckNoSubscriptionFound}}
	uaData, err := ua.Encode()
	if err != nil {
		t.Fatal(err)
	}
	gotUA, err := DecodeUnsubAck(uaData, MQTT5)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotUA.ReasonCodes) != 2 || gotUA.ReasonCodes[1] != UnsubAckNoSubscriptionFound {
		t.Fatalf("got %+v", gotUA.ReasonCodes)
	}
}

func TestPingPacketsEncodeEmpty(t *testing.T) {
	if b, err := (PingReqPacket{}).Encode(); err != nil || len(b) != 0 {
		t.Fatalf("expected empty body, got %v err=%v", b, err)
	}
	if b, err := (PingRespPacket{}).Encode(); err != nil || len(b) != 0 {
		t.Fatalf("expected empty body, got %v err=%v", b, err)
	}
}

func TestDisconnectRoundTrip(t *testing.T) {
	d := &DisconnectPacket{ProtocolVersion: MQTT5, ReasonCode: DisconnectReceiveMaximumExceeded}
	data, err := d.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeDisconnect(data, MQTT5)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReasonCode != DisconnectReceiveMaximumExceeded {
		t.Fatalf("got %+v", got)
	}

	d311 := &DisconnectPacket{ProtocolVersion: MQTT311}
	data311, err := d311.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if len(data311) != 0 {
		t.Fatalf("MQTT 3.1.1 DISCONNECT should have empty body, got %d bytes", len(data311))
	}
}

func TestAuthRoundTrip(t *testing.T) {
	a := &AuthPacket{ReasonCode: AuthContinueAuthentication, Properties: &Properties{}}
	a.Properties.SetString(PropAuthMethod, "SCRAM-SHA-1")
	data, err := a.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeAuth(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReasonCode != AuthContinueAuthentication || got.Properties.String[PropAuthMethod] != "SCRAM-SHA-1" {
		t.Fatalf("got %+v", got)
	}
}

func TestPropertiesUserPropertyRoundTrip(t *testing.T) {
	p := &Properties{User: []UserProperty{{Key: "k1", Value: "v1"}, {Key: "k2", Value: "v2"}}}
	data, err := encodeProperties(p)
	if err != nil {
		t.Fatal(err)
	}
	got, err := readProperties(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.User) != 2 || got.User[0].Key != "k1" || got.User[1].Value != "v2" {
		t.Fatalf("got %+v", got.User)
	}
}

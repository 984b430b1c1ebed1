package ppcb

import (
	"reflect"
	"testing"
)

var marshalUnmarshalTests = []Packet{
	&Conn{SessionID: 42, Proto: ProtoUDPR, DataLen: 123456},
	&ConnAcc{SessionID: 42},
	&ConnRjt{SessionID: 42},
	&Data{SessionID: 42, PacketNum: 7, Bytes: []byte{1, 2, 3, 4, 5}},
	&Data{SessionID: 1, PacketNum: 0, Bytes: nil},
	&Acc{SessionID: 42, PacketNum: 7},
	&Rjt{SessionID: 42, PacketNum: 7},
	&Rcvd{SessionID: 42},
}

func TestPacketMarshalUnmarshal(t *testing.T) {
	for _, p := range marshalUnmarshalTests {
		tp := reflect.Indirect(reflect.ValueOf(p)).Type()
		b, err := p.marshal(nil)
		if err != nil {
			t.Errorf("marshal of %s %+v failed: %v", tp.Name(), p, err)
			continue
		}
		p2, _ := reflect.New(tp).Interface().(Packet)
		if err := p2.unmarshal(b); err != nil {
			t.Errorf("unmarshal of %s %+v failed: %v", tp.Name(), p, err)
			continue
		}
		if !reflect.DeepEqual(p, p2) {
			t.Errorf("%+v != %+v", p2, p)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, p := range marshalUnmarshalTests {
		buf, err := Encode(nil, p)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", p, err)
		}
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !reflect.DeepEqual(p, got) {
			t.Errorf("Decode(Encode(%+v)) = %+v", p, got)
		}
	}
}

func TestDataRejectsOversizePayload(t *testing.T) {
	d := &Data{SessionID: 1, PacketNum: 0, Bytes: make([]byte, DMax+1)}
	if _, err := Encode(nil, d); err == nil {
		t.Fatal("expected error encoding an over-DMAX DATA packet")
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode([]byte{byte(KindConn)}); err == nil {
		t.Fatal("expected error decoding a truncated CONN")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindConn: "CONN", KindConnAcc: "CONNACC", KindConnRjt: "CONNRJT",
		KindData: "DATA", KindAcc: "ACC", KindRjt: "RJT", KindRcvd: "RCVD",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestKindNumbered(t *testing.T) {
	for _, k := range []Kind{KindData, KindAcc, KindRjt} {
		if !k.Numbered() {
			t.Errorf("%s should be Numbered", k)
		}
	}
	for _, k := range []Kind{KindConn, KindConnAcc, KindConnRjt, KindRcvd} {
		if k.Numbered() {
			t.Errorf("%s should not be Numbered", k)
		}
	}
}

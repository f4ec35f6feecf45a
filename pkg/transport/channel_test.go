package transport

import (
	"errors"
	"testing"
	"time"
)

func testChannelConfig() ReliableChannelConfig {
	return ReliableChannelConfig{
		MessageResendTime:  100 * time.Millisecond,
		MaxMessageSize:     16,
		MaxPendingMessages: 4,
		ReceiveWindow:      8,
	}
}

const testSliceSize = 4

func popAll(ch *reliableChannel) []string {
	var out []string
	for {
		data, ok := ch.pop()
		if !ok {
			return out
		}
		out = append(out, string(data))
	}
}

func TestReliableChannelReceiveOrdering(t *testing.T) {
	tests := []struct {
		name  string
		seqs  []uint64
		want  []string
		acked int
	}{
		{"in order", []uint64{0, 1, 2}, []string{"m0", "m1", "m2"}, 3},
		{"reversed", []uint64{2, 1, 0}, []string{"m0", "m1", "m2"}, 3},
		{"gap holds later messages", []uint64{1, 2}, nil, 2},
		{"duplicates delivered once", []uint64{0, 0, 1, 0}, []string{"m0", "m1"}, 4},
		{"beyond window dropped without ack", []uint64{0, 9}, []string{"m0"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newReliableChannel(0, testChannelConfig(), testSliceSize)
			for _, seq := range tt.seqs {
				_ = ch.receive(seq, []byte{'m', byte('0' + seq)}, true)
			}
			got := popAll(ch)
			if len(got) != len(tt.want) {
				t.Fatalf("delivered %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("delivered[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
			if len(ch.acks) != tt.acked {
				t.Errorf("acks = %v, want %d entries", ch.acks, tt.acked)
			}
		})
	}
}

func TestReliableChannelResendTiming(t *testing.T) {
	ch := newReliableChannel(0, testChannelConfig(), testSliceSize)
	if err := ch.send([]byte("a")); err != nil {
		t.Fatalf("send: %v", err)
	}

	t0 := time.Unix(1000, 0)
	due := ch.due(t0)
	if len(due) != 1 {
		t.Fatalf("unsent message not due: %d", len(due))
	}
	due[0].sent = true
	due[0].lastSent = t0

	if got := ch.due(t0.Add(99 * time.Millisecond)); len(got) != 0 {
		t.Errorf("message resent before resend time: %d", len(got))
	}
	if got := ch.due(t0.Add(100 * time.Millisecond)); len(got) != 1 {
		t.Errorf("message not resent after resend time: %d", len(got))
	}

	ch.ack(due[0].seq)
	if got := ch.unacked(); got != 0 {
		t.Errorf("unacked after ack = %d, want 0", got)
	}
	if got := ch.due(t0.Add(time.Second)); len(got) != 0 {
		t.Errorf("acked message still due: %d", len(got))
	}
}

func TestReliableChannelSendLimits(t *testing.T) {
	ch := newReliableChannel(0, testChannelConfig(), testSliceSize)

	if err := ch.send(make([]byte, 17)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized send err = %v, want ErrMessageTooLarge", err)
	}
	for i := 0; i < 4; i++ {
		if err := ch.send([]byte{byte(i)}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	err := ch.send([]byte("x"))
	if !errors.Is(err, ErrChannelOverflow) || !isOverflow(err) {
		t.Errorf("send past pending limit err = %v, want ErrChannelOverflow", err)
	}

	// sequence numbers are assigned in send order
	for i, m := range ch.pending {
		if m.seq != uint64(i) {
			t.Errorf("pending[%d].seq = %d", i, m.seq)
		}
	}
}

func TestReliableChannelAckOutOfOrder(t *testing.T) {
	ch := newReliableChannel(0, testChannelConfig(), testSliceSize)
	for i := 0; i < 3; i++ {
		_ = ch.send([]byte{byte(i)})
	}
	ch.ack(1)
	ch.ack(7)
	if got := ch.unacked(); got != 2 {
		t.Fatalf("unacked = %d, want 2", got)
	}
	if ch.pending[0].seq != 0 || ch.pending[1].seq != 2 {
		t.Errorf("pending seqs = %d,%d, want 0,2", ch.pending[0].seq, ch.pending[1].seq)
	}
}

func TestReliableChannelSlicesLargeMessages(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		slices int
	}{
		{"empty", "", 1},
		{"fits one slice", "abcd", 1},
		{"one byte over", "abcde", 2},
		{"max size", "0123456789abcdef", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testChannelConfig()
			cfg.MaxPendingMessages = 8
			tx := newReliableChannel(0, cfg, testSliceSize)
			rx := newReliableChannel(0, cfg, testSliceSize)

			if err := tx.send([]byte(tt.msg)); err != nil {
				t.Fatalf("send: %v", err)
			}
			if got := tx.unacked(); got != tt.slices {
				t.Fatalf("queued %d slices, want %d", got, tt.slices)
			}
			// deliver back to front; reassembly waits for the gap to close
			due := tx.due(time.Unix(0, 0))
			for i := len(due) - 1; i >= 0; i-- {
				if len(due[i].data) > testSliceSize {
					t.Errorf("slice %d has %d bytes", i, len(due[i].data))
				}
				if err := rx.receive(due[i].seq, due[i].data, due[i].last); err != nil {
					t.Fatalf("receive: %v", err)
				}
			}
			got := popAll(rx)
			if len(got) != 1 || got[0] != tt.msg {
				t.Errorf("delivered %q, want [%q]", got, tt.msg)
			}
		})
	}
}

func TestReliableChannelInterleavedMessagesKeepOrder(t *testing.T) {
	cfg := testChannelConfig()
	cfg.MaxPendingMessages = 8
	tx := newReliableChannel(0, cfg, testSliceSize)
	rx := newReliableChannel(0, cfg, testSliceSize)

	for _, m := range []string{"first-long", "b", "third"} {
		if err := tx.send([]byte(m)); err != nil {
			t.Fatalf("send %q: %v", m, err)
		}
	}
	for _, m := range tx.due(time.Unix(0, 0)) {
		if err := rx.receive(m.seq, m.data, m.last); err != nil {
			t.Fatalf("receive: %v", err)
		}
	}
	got := popAll(rx)
	want := []string{"first-long", "b", "third"}
	if len(got) != len(want) {
		t.Fatalf("delivered %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivered[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReliableChannelSliceLimits(t *testing.T) {
	ch := newReliableChannel(0, testChannelConfig(), testSliceSize)

	// 9 bytes need 3 slices; only 4 may be pending
	if err := ch.send(make([]byte, 9)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := ch.send(make([]byte, 5)); !errors.Is(err, ErrChannelOverflow) {
		t.Errorf("send past pending limit err = %v, want ErrChannelOverflow", err)
	}
	if got := ch.unacked(); got != 3 {
		t.Errorf("partial message queued: unacked = %d, want 3", got)
	}

	rx := newReliableChannel(0, testChannelConfig(), testSliceSize)
	for seq := uint64(0); seq < 4; seq++ {
		if err := rx.receive(seq, make([]byte, testSliceSize), false); err != nil {
			t.Fatalf("receive %d: %v", seq, err)
		}
	}
	if err := rx.receive(4, []byte{1}, true); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized reassembly err = %v, want ErrMessageTooLarge", err)
	}
}

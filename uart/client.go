package uart

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

type clientOptions struct {
	Log *zap.SugaredLogger
}

func newClientOptions() *clientOptions {
	return &clientOptions{
		Log: zap.NewNop().Sugar(),
	}
}

// ClientOption configures the link client.
type ClientOption func(*clientOptions)

// WithLog sets the logger for the link client.
func WithLog(log *zap.SugaredLogger) ClientOption {
	return func(o *clientOptions) {
		o.Log = log
	}
}

// Client ships work pages over the serial link to the FPGA and reads
// results back. The host engine remains the reference implementation of
// every algorithm; the client only moves data and descriptors.
type Client struct {
	channel io.ReadWriter
	log     *zap.SugaredLogger
}

// NewClient wraps an open link channel.
func NewClient(channel io.ReadWriter, options ...ClientOption) *Client {
	opts := newClientOptions()
	for _, o := range options {
		o(opts)
	}

	return &Client{channel: channel, log: opts.Log}
}

// writePages streams data to the device page by page. Every page goes out
// as preamble, payload and footer; the address field carries the base
// address plus the page index.
func (c *Client) writePages(baseAddress uint64, operation uint8, data []byte) error {
	for written := 0; written < len(data); {
		pageIndex := written / PageSize

		count := len(data) - written
		if count > PageSize {
			count = PageSize
		}
		payload := data[written : written+count]
		checksum := Checksum(payload)

		preamble := Preamble{
			Magic:     MagicPCToFPGA,
			Operation: operation,
			Length:    uint16(count),
			Checksum:  checksum,
			Address:   baseAddress + uint64(pageIndex),
		}
		if _, err := c.channel.Write(preamble.Encode()); err != nil {
			return fmt.Errorf("failed to send preamble: %w", err)
		}

		if _, err := c.channel.Write(payload); err != nil {
			return fmt.Errorf("failed to send page %d: %w", pageIndex, err)
		}

		footer := Footer{
			Magic:     MagicPCToFPGA,
			Operation: operation,
			Checksum:  checksum,
		}
		if _, err := c.channel.Write(footer.Encode()); err != nil {
			return fmt.Errorf("failed to send footer: %w", err)
		}

		c.log.Debugw("page has been sent",
			"operation", operation, "page", pageIndex, "bytes", count)

		written += count
	}

	return nil
}

// readAnswer scans the link for the device magic and decodes the reply
// that follows it.
func (c *Client) readAnswer() (Answer, error) {
	var b [1]byte
	for {
		if _, err := io.ReadFull(c.channel, b[:]); err != nil {
			return Answer{}, fmt.Errorf("failed to read answer: %w", err)
		}
		if b[0] == MagicFPGAToPC {
			break
		}
	}

	buf := make([]byte, answerSize)
	buf[0] = b[0]
	if _, err := io.ReadFull(c.channel, buf[1:]); err != nil {
		return Answer{}, fmt.Errorf("failed to read answer: %w", err)
	}

	answer, err := DecodeAnswer(buf)
	if err != nil {
		return Answer{}, err
	}

	if answer.Result != 0 {
		return answer, fmt.Errorf("device operation failed: result %#x", answer.Result)
	}

	return answer, nil
}

// readPayload reads an answer and its payload of at most limit bytes,
// verifying the checksum.
func (c *Client) readPayload(limit int) ([]byte, error) {
	answer, err := c.readAnswer()
	if err != nil {
		return nil, err
	}

	if int(answer.Length) > limit {
		return nil, fmt.Errorf("answer payload is %d bytes, limit is %d",
			answer.Length, limit)
	}

	payload := make([]byte, answer.Length)
	if _, err := io.ReadFull(c.channel, payload); err != nil {
		return nil, fmt.Errorf("failed to read result data: %w", err)
	}

	if checksum := Checksum(payload); checksum != answer.Checksum {
		return nil, fmt.Errorf("checksum %#x does not match answer %#x",
			checksum, answer.Checksum)
	}

	return payload, nil
}

// WriteInputData ships the whole input dataset into the device's input
// region and waits for the acknowledgement.
func (c *Client) WriteInputData(data []byte) error {
	if err := c.writePages(InputDataBaseAddress, OpWriteInputData, data); err != nil {
		return err
	}

	if _, err := c.readAnswer(); err != nil {
		return fmt.Errorf("write operation failed: %w", err)
	}
	return nil
}

// SendManagementArray ships the per-core management descriptors.
func (c *Client) SendManagementArray(items []Management) error {
	data := EncodeManagementArray(items)
	if err := c.writePages(ManagementPageBaseAddress, OpSendManagementPage, data); err != nil {
		return err
	}

	if _, err := c.readAnswer(); err != nil {
		return fmt.Errorf("management page rejected: %w", err)
	}
	return nil
}

// PollManagementArray asks the device for the current management array
// and decodes it, results included.
func (c *Client) PollManagementArray(cores int) ([]Management, error) {
	preamble := Preamble{
		Magic:     MagicPCToFPGA,
		Operation: OpPollManagementPage,
		Address:   ManagementPageBaseAddress,
	}
	if _, err := c.channel.Write(preamble.Encode()); err != nil {
		return nil, fmt.Errorf("failed to send poll request: %w", err)
	}

	payload, err := c.readPayload(cores * ManagementSize)
	if err != nil {
		return nil, err
	}

	return DecodeManagementArray(payload)
}

// WaitCompletion polls the management array until every core reports a
// result, backing off exponentially between polls.
func (c *Client) WaitCompletion(ctx context.Context, cores int) ([]Management, error) {
	ticker := backoff.NewTicker(&backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         time.Second,
	})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		items, err := c.PollManagementArray(cores)
		if err != nil {
			return nil, err
		}

		busy := false
		for i, item := range items {
			if item.Result.State == 0 && item.Result.Err == 0 {
				c.log.Debugw("core is still busy", "core", i)
				busy = true
				break
			}
		}
		if !busy {
			return items, nil
		}
	}
}

// ReadResult pulls the processed dataset out of the device.
func (c *Client) ReadResult(size int) ([]byte, error) {
	preamble := Preamble{
		Magic:     MagicPCToFPGA,
		Operation: OpReadResult,
	}
	if _, err := c.channel.Write(preamble.Encode()); err != nil {
		return nil, fmt.Errorf("failed to send read request: %w", err)
	}

	return c.readPayload(size)
}

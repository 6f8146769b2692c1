package uart

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Port is an open serial channel to the FPGA, configured for raw
// byte-transparent 8N1 communication at 115200 baud.
type Port struct {
	file *os.File
}

// OpenPort opens and configures the UART device.
func OpenPort(device string) (*Port, error) {
	f, err := os.OpenFile(device, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open UART channel: %w", err)
	}

	if err := configure(int(f.Fd())); err != nil {
		f.Close()
		return nil, err
	}

	return &Port{file: f}, nil
}

// configure turns off all input, output and line processing so the link
// carries raw bytes, and fixes the speed.
func configure(fd int) error {
	config, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get current configuration: %w", err)
	}

	config.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.ICRNL |
		unix.INLCR | unix.PARMRK | unix.INPCK | unix.ISTRIP | unix.IXON
	config.Oflag = 0
	config.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.IEXTEN | unix.ISIG

	config.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	config.Cflag |= unix.CS8

	// One input byte is enough to return from read, no inter-character
	// timer.
	config.Cc[unix.VMIN] = 1
	config.Cc[unix.VTIME] = 0

	config.Cflag &^= unix.CBAUD
	config.Cflag |= unix.B115200
	config.Ispeed = unix.B115200
	config.Ospeed = unix.B115200

	if err := unix.IoctlSetTermios(fd, unix.TCSETSF, config); err != nil {
		return fmt.Errorf("failed to set configuration of communication: %w", err)
	}

	return nil
}

func (p *Port) Read(buf []byte) (int, error)  { return p.file.Read(buf) }
func (p *Port) Write(buf []byte) (int, error) { return p.file.Write(buf) }

// Drain blocks until all queued output has been transmitted.
func (p *Port) Drain() error {
	if err := unix.IoctlSetInt(int(p.file.Fd()), unix.TCSBRK, 1); err != nil {
		return fmt.Errorf("failed to drain UART channel: %w", err)
	}
	return nil
}

// Close closes the UART device.
func (p *Port) Close() error {
	return p.file.Close()
}

package rtc

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/spf13/afero"
)

var (
	errNoAudio = errors.New("ogg stream holds no audio pages")
	opusTags   = []byte("OpusTags")
)

// OggSource plays an Ogg/Opus file as the microphone, one page per frame,
// starting over at the end. Files written one packet per page (as pion's
// oggwriter does) map to one 20ms frame each.
type OggSource struct {
	fs   afero.Fs
	path string
	f    afero.File
	r    *oggreader.OggReader
}

func OpenOgg(fs afero.Fs, path string) (*OggSource, error) {
	s := &OggSource{fs: fs, path: path}
	if err := s.rewind(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *OggSource) rewind() error {
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
	f, err := s.fs.Open(s.path)
	if err != nil {
		return fmt.Errorf("open capture file: %w", err)
	}
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("read ogg header %s: %w", s.path, err)
	}
	s.f, s.r = f, r
	return nil
}

func (s *OggSource) ReadFrame() ([]byte, error) {
	if s.r == nil {
		return nil, io.ErrClosedPipe
	}
	rewound := false
	for {
		payload, _, err := s.r.ParseNextPage()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if rewound {
				return nil, errNoAudio
			}
			if err := s.rewind(); err != nil {
				return nil, err
			}
			rewound = true
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 || bytes.HasPrefix(payload, opusTags) {
			continue
		}
		return payload, nil
	}
}

func (s *OggSource) Close() error {
	s.r = nil
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

package framesink

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	hptdc "github.com/metro-exp/hptdc_go/pkg"
)

// ReadFile loads an archive written by Create into memory.
func ReadFile(filename string) (*hptdc.MemorySink, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, &hptdc.ErrOpenFile{Filename: filename, Err: err}
	}
	defer file.Close()
	return ReadArchive(file)
}

// ReadArchive replays every frame of r into a MemorySink.
func ReadArchive(r io.Reader) (*hptdc.MemorySink, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()

	sink := hptdc.NewMemorySink()
	datasets := make(map[uint32]hptdc.Dataset)
	frames := NewFrameDecoder(r)

	for {
		frame, err := frames.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch frame.Type {
		case FrameGroup:
			err = sink.CreateGroup(frame.Group)
		case FrameAttr:
			err = sink.WriteAttribute(frame.Group, frame.Key, frame.Value)
		case FrameDataset:
			var kind hptdc.DatasetKind
			kind, err = hptdc.ParseDatasetKind(frame.Kind)
			if err != nil {
				break
			}
			spec := hptdc.DatasetSpec{Kind: kind, Shape: frame.Shape, Compress: frame.Compress}
			var dataset hptdc.Dataset
			dataset, err = sink.CreateDataset(frame.Group, frame.Name, spec)
			datasets[frame.Dataset] = dataset
		case FrameChunk:
			err = readChunk(decoder, datasets, frame)
		case FrameClose:
			dataset, ok := datasets[frame.Dataset]
			if !ok {
				return nil, unknownDataset(frame)
			}
			delete(datasets, frame.Dataset)
			err = dataset.Close()
		default:
			err = &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("unknown frame type %q", frame.Type)}
		}
		if err != nil {
			return nil, err
		}
	}
	return sink, nil
}

func readChunk(decoder *zstd.Decoder, datasets map[uint32]hptdc.Dataset, frame *Frame) error {
	dataset, ok := datasets[frame.Dataset]
	if !ok {
		return unknownDataset(frame)
	}
	payload := frame.Payload
	if frame.Compress {
		var err error
		payload, err = decoder.DecodeAll(payload, nil)
		if err != nil {
			return &FrameError{Kind: FrameErrorDecode, Msg: "failed to decompress chunk", Err: err}
		}
	}
	var chunk hptdc.Chunk
	if err := msgpack.Unmarshal(payload, &chunk); err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode chunk", Err: err}
	}
	return dataset.Write(frame.Start, chunk)
}

func unknownDataset(frame *Frame) error {
	return &FrameError{
		Kind: FrameErrorSequence,
		Msg:  fmt.Sprintf("%s frame for unknown dataset %d", frame.Type, frame.Dataset),
	}
}

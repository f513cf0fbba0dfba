package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/tsawler/go-audio-detector/layers"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from onnx.proto. Only the subset needed to carry named
// float tensors and string metadata is encoded.
const (
	modelIRVersion       protowire.Number = 1
	modelProducerName    protowire.Number = 2
	modelProducerVersion protowire.Number = 3
	modelVersion         protowire.Number = 5
	modelDocString       protowire.Number = 6
	modelGraph           protowire.Number = 7
	modelOpsetImport     protowire.Number = 8
	modelMetadataProps   protowire.Number = 14

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	entryKey   protowire.Number = 1
	entryValue protowire.Number = 2

	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5
	graphDocString   protowire.Number = 10

	tensorDims      protowire.Number = 1
	tensorDataType  protowire.Number = 2
	tensorFloatData protowire.Number = 4
	tensorName      protowire.Number = 8
	tensorDocString protowire.Number = 12

	tensorTypeFloat = 1

	irVersion    = 7
	defaultOpset = 13
)

const (
	metaModelSpec       = "model_spec"
	metaTrainingState   = "training_state"
	metaCheckpoint      = "checkpoint_metadata"
	metaOptimizerType   = "optimizer_type"
	metaOptimizerParams = "optimizer_parameters"

	optimizerPrefix = "optimizer/"
)

// ONNXExporter encodes checkpoints as ONNX ModelProto messages. Weights and
// optimizer buffers become graph initializers; everything else is stored
// as JSON in metadata_props.
type ONNXExporter struct{}

// NewONNXExporter creates a new ONNX exporter
func NewONNXExporter() *ONNXExporter {
	return &ONNXExporter{}
}

// Marshal encodes checkpoint in protobuf wire format.
func (oe *ONNXExporter) Marshal(checkpoint *Checkpoint) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, modelIRVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, irVersion)
	b = appendStringField(b, modelProducerName, frameworkName)
	b = appendStringField(b, modelProducerVersion, frameworkVersion)
	b = protowire.AppendTag(b, modelVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	if checkpoint.Metadata.Description != "" {
		b = appendStringField(b, modelDocString, checkpoint.Metadata.Description)
	}

	var graph []byte
	graph = appendStringField(graph, graphName, "audio-detector")
	graph = appendStringField(graph, graphDocString, "weights only")
	for _, w := range checkpoint.Weights {
		graph = appendMessageField(graph, graphInitializer,
			encodeTensor(w.Name, w.Shape, w.Data, w.Type+":"+w.Layer))
	}
	if opt := checkpoint.OptimizerState; opt != nil {
		for _, st := range opt.StateData {
			graph = appendMessageField(graph, graphInitializer,
				encodeTensor(optimizerPrefix+st.Name, st.Shape, st.Data, st.StateType))
		}
	}
	b = appendMessageField(b, modelGraph, graph)

	var opset []byte
	opset = appendStringField(opset, opsetDomain, "")
	opset = protowire.AppendTag(opset, opsetVersion, protowire.VarintType)
	opset = protowire.AppendVarint(opset, defaultOpset)
	b = appendMessageField(b, modelOpsetImport, opset)

	props := map[string]interface{}{
		metaModelSpec:     checkpoint.ModelSpec,
		metaTrainingState: checkpoint.TrainingState,
		metaCheckpoint:    checkpoint.Metadata,
	}
	keys := []string{metaModelSpec, metaTrainingState, metaCheckpoint}
	if opt := checkpoint.OptimizerState; opt != nil {
		props[metaOptimizerType] = opt.Type
		props[metaOptimizerParams] = opt.Parameters
		keys = append(keys, metaOptimizerType, metaOptimizerParams)
	}
	for _, key := range keys {
		value, err := json.Marshal(props[key])
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", key, err)
		}
		var entry []byte
		entry = appendStringField(entry, entryKey, key)
		entry = appendStringField(entry, entryValue, string(value))
		b = appendMessageField(b, modelMetadataProps, entry)
	}

	return b, nil
}

func encodeTensor(name string, shape []int, data []float32, doc string) []byte {
	var t []byte

	var dims []byte
	for _, d := range shape {
		dims = protowire.AppendVarint(dims, uint64(d))
	}
	t = protowire.AppendTag(t, tensorDims, protowire.BytesType)
	t = protowire.AppendBytes(t, dims)

	t = protowire.AppendTag(t, tensorDataType, protowire.VarintType)
	t = protowire.AppendVarint(t, tensorTypeFloat)

	floats := make([]byte, 0, 4*len(data))
	for _, v := range data {
		floats = protowire.AppendFixed32(floats, math.Float32bits(v))
	}
	t = protowire.AppendTag(t, tensorFloatData, protowire.BytesType)
	t = protowire.AppendBytes(t, floats)

	t = appendStringField(t, tensorName, name)
	if doc != "" {
		t = appendStringField(t, tensorDocString, doc)
	}
	return t
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// ONNXImporter decodes checkpoints written by ONNXExporter
type ONNXImporter struct{}

// NewONNXImporter creates a new ONNX importer
func NewONNXImporter() *ONNXImporter {
	return &ONNXImporter{}
}

type onnxTensor struct {
	name  string
	dims  []int
	data  []float32
	doc   string
	dtype uint64
}

// Unmarshal decodes a ModelProto back into a Checkpoint.
func (oi *ONNXImporter) Unmarshal(data []byte) (*Checkpoint, error) {
	var (
		graph    []byte
		producer string
		props    = make(map[string]string)
	)

	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == modelGraph && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			graph = v
			return n, nil
		case num == modelProducerName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			producer = v
			return n, nil
		case num == modelMetadataProps && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			key, value, err := decodeEntry(v)
			if err != nil {
				return 0, err
			}
			props[key] = value
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX model: %w", err)
	}
	if graph == nil {
		return nil, fmt.Errorf("ONNX model has no graph")
	}

	tensors, err := decodeGraph(graph)
	if err != nil {
		return nil, err
	}

	checkpoint := &Checkpoint{}
	if v, ok := props[metaModelSpec]; ok && v != "null" {
		spec := &layers.ModelSpec{}
		if err := json.Unmarshal([]byte(v), spec); err != nil {
			return nil, fmt.Errorf("failed to decode model spec: %w", err)
		}
		checkpoint.ModelSpec = spec
	}
	if v, ok := props[metaTrainingState]; ok {
		if err := json.Unmarshal([]byte(v), &checkpoint.TrainingState); err != nil {
			return nil, fmt.Errorf("failed to decode training state: %w", err)
		}
	}
	if v, ok := props[metaCheckpoint]; ok {
		if err := json.Unmarshal([]byte(v), &checkpoint.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	} else {
		checkpoint.Metadata.Description = fmt.Sprintf("Imported from ONNX (producer: %s)", producer)
	}

	var optState *OptimizerState
	if v, ok := props[metaOptimizerType]; ok {
		optState = &OptimizerState{}
		if err := json.Unmarshal([]byte(v), &optState.Type); err != nil {
			return nil, fmt.Errorf("failed to decode optimizer type: %w", err)
		}
		if p, ok := props[metaOptimizerParams]; ok {
			if err := json.Unmarshal([]byte(p), &optState.Parameters); err != nil {
				return nil, fmt.Errorf("failed to decode optimizer parameters: %w", err)
			}
		}
	}

	for _, t := range tensors {
		if t.dtype != tensorTypeFloat {
			return nil, fmt.Errorf("tensor %s has unsupported data type %d", t.name, t.dtype)
		}
		if strings.HasPrefix(t.name, optimizerPrefix) {
			if optState == nil {
				optState = &OptimizerState{}
			}
			optState.StateData = append(optState.StateData, OptimizerTensor{
				Name:      strings.TrimPrefix(t.name, optimizerPrefix),
				Shape:     t.dims,
				Data:      t.data,
				StateType: t.doc,
			})
			continue
		}
		kind, layer, _ := strings.Cut(t.doc, ":")
		checkpoint.Weights = append(checkpoint.Weights, WeightTensor{
			Name:  t.name,
			Shape: t.dims,
			Data:  t.data,
			Layer: layer,
			Type:  kind,
		})
	}
	checkpoint.OptimizerState = optState

	return checkpoint, nil
}

func decodeGraph(b []byte) ([]onnxTensor, error) {
	var tensors []onnxTensor
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == graphInitializer && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			t, err := decodeTensor(v)
			if err != nil {
				return 0, err
			}
			tensors = append(tensors, t)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX graph: %w", err)
	}
	return tensors, nil
}

func decodeTensor(b []byte) (onnxTensor, error) {
	var t onnxTensor
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case tensorDims:
			if typ == protowire.VarintType {
				v, n := protowire.ConsumeVarint(b)
				t.dims = append(t.dims, int(v))
				return n, nil
			}
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return m, nil
				}
				t.dims = append(t.dims, int(v))
				packed = packed[m:]
			}
			return n, nil
		case tensorDataType:
			v, n := protowire.ConsumeVarint(b)
			t.dtype = v
			return n, nil
		case tensorFloatData:
			if typ == protowire.Fixed32Type {
				v, n := protowire.ConsumeFixed32(b)
				t.data = append(t.data, math.Float32frombits(v))
				return n, nil
			}
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			t.data = make([]float32, 0, len(packed)/4)
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed32(packed)
				if m < 0 {
					return m, nil
				}
				t.data = append(t.data, math.Float32frombits(v))
				packed = packed[m:]
			}
			return n, nil
		case tensorName:
			v, n := protowire.ConsumeString(b)
			t.name = v
			return n, nil
		case tensorDocString:
			v, n := protowire.ConsumeString(b)
			t.doc = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return t, fmt.Errorf("failed to parse tensor: %w", err)
	}
	return t, nil
}

func decodeEntry(b []byte) (string, string, error) {
	var key, value string
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == entryKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			key = v
			return n, nil
		case num == entryValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			value = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return key, value, err
}

// consumeFields walks the fields of one message. fn consumes the value of
// a field and reports how many bytes it used; a negative count is a wire
// format error.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

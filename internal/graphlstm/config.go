package graphlstm

import "fmt"

// Config fixes every width of the network. It is stored alongside exported
// weights so a model can be rebuilt before its state is loaded.
type Config struct {
	NodeDim         int `json:"node_dim" mapstructure:"node_dim"`
	EdgeDim         int `json:"edge_dim" mapstructure:"edge_dim"`
	GroundMotionDim int `json:"ground_motion_dim" mapstructure:"ground_motion_dim"`
	OutputDim       int `json:"output_dim" mapstructure:"output_dim"`

	GNNNumLayers int `json:"gnn_num_layers" mapstructure:"gnn_num_layers"`
	HeadNum      int `json:"head_num" mapstructure:"head_num"`
	GNNHiddenDim int `json:"gnn_hidden_dim" mapstructure:"gnn_hidden_dim"`
	LatentDim    int `json:"latent_dim" mapstructure:"latent_dim"`

	GraphLSTMHiddenDim int `json:"graph_lstm_hidden_dim" mapstructure:"graph_lstm_hidden_dim"`
	GraphLSTMNumLayers int `json:"graph_lstm_num_layers" mapstructure:"graph_lstm_num_layers"`

	NodeEncoderHidden     []int `json:"node_encoder_hidden" mapstructure:"node_encoder_hidden"`
	NodeLSTMHiddenDim     int   `json:"node_lstm_hidden_dim" mapstructure:"node_lstm_hidden_dim"`
	NodeLSTMNumLayers     int   `json:"node_lstm_num_layers" mapstructure:"node_lstm_num_layers"`
	ResponseDecoderHidden []int `json:"response_decoder_hidden" mapstructure:"response_decoder_hidden"`
}

// DefaultConfig returns the widths of the published steel-frame model: 35
// node features, 4 edge features, a 20-channel ground-motion pair and 30
// response components.
func DefaultConfig() Config {
	return Config{
		NodeDim:               35,
		EdgeDim:               4,
		GroundMotionDim:       20,
		OutputDim:             30,
		GNNNumLayers:          1,
		HeadNum:               4,
		GNNHiddenDim:          64,
		LatentDim:             128,
		GraphLSTMHiddenDim:    128,
		GraphLSTMNumLayers:    1,
		NodeLSTMHiddenDim:     256,
		NodeLSTMNumLayers:     2,
		ResponseDecoderHidden: []int{64},
	}
}

func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"node_dim", c.NodeDim},
		{"ground_motion_dim", c.GroundMotionDim},
		{"output_dim", c.OutputDim},
		{"gnn_num_layers", c.GNNNumLayers},
		{"head_num", c.HeadNum},
		{"latent_dim", c.LatentDim},
		{"graph_lstm_hidden_dim", c.GraphLSTMHiddenDim},
		{"graph_lstm_num_layers", c.GraphLSTMNumLayers},
		{"node_lstm_hidden_dim", c.NodeLSTMHiddenDim},
		{"node_lstm_num_layers", c.NodeLSTMNumLayers},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrShapeMismatch, p.name, p.value)
		}
	}
	if c.EdgeDim < 0 {
		return fmt.Errorf("%w: edge_dim must not be negative", ErrShapeMismatch)
	}
	if c.GNNNumLayers > 1 && c.GNNHiddenDim <= 0 {
		return fmt.Errorf("%w: gnn_hidden_dim must be positive with %d graph layers", ErrShapeMismatch, c.GNNNumLayers)
	}
	if c.NodeLSTMNumLayers > 1 && c.NodeLSTMHiddenDim < c.GroundMotionDim {
		return fmt.Errorf("%w: node_lstm_hidden_dim %d cannot carry %d ground-motion channels", ErrShapeMismatch, c.NodeLSTMHiddenDim, c.GroundMotionDim)
	}
	for _, widths := range [][]int{c.NodeEncoderHidden, c.ResponseDecoderHidden} {
		for _, w := range widths {
			if w <= 0 {
				return fmt.Errorf("%w: hidden widths must be positive, got %v", ErrShapeMismatch, widths)
			}
		}
	}
	return nil
}

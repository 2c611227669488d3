package modbus

import (
	"fmt"
	"maps"
)

// PollBlocks reads all the metric `blocks` from the `client` and returns a map of the parsed values, keyed by metric name.
// The `scaler` instance is passed into any scaling functions defined in the register block.
func (c *Client) PollBlocks(scaler Scaler, blocks []MetricBlock) (map[string]interface{}, error) {

	allMetricVals := make(map[string]interface{})

	for _, block := range blocks {
		blockMetricVals, err := c.PollBlock(scaler, block)
		if err != nil {
			return nil, fmt.Errorf("poll block '%s': %w", block.Name, err)
		}
		maps.Copy(allMetricVals, blockMetricVals)
	}

	return allMetricVals, nil
}

// PollBlock reads a single metric `block` from the `client` and returns a map of the parsed values, keyed by metric name.
// The `scaler` instance is passed into any scaling functions defined in the register block.
func (c *Client) PollBlock(scaler Scaler, block MetricBlock) (map[string]interface{}, error) {

	registerVals, err := c.readRegisters(block)
	if err != nil {
		return nil, err
	}

	return parseBlock(scaler, block, registerVals)
}

// readRegisters reads the whole block of registers from the modbus device, reconnecting first if required.
func (c *Client) readRegisters(block MetricBlock) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.reconnectIfNeccesary()
	if err != nil {
		return nil, fmt.Errorf("reconnect: %w", err)
	}

	registerVals, err := c.subClient.ReadRegisters(block.StartAddr, block.NumRegisters, block.RegisterType)
	if err != nil {
		c.setShouldReconnect()
		return nil, fmt.Errorf("read %s registers %d+%d: %w", block.RegisterType, block.StartAddr, block.NumRegisters, err)
	}
	if len(registerVals) != int(block.NumRegisters) {
		c.setShouldReconnect()
		return nil, fmt.Errorf("read %s registers %d+%d: got %d registers", block.RegisterType, block.StartAddr, block.NumRegisters, len(registerVals))
	}

	return registerVals, nil
}

// parseBlock extracts each metric of the `block` from the registers that were read.
func parseBlock(scaler Scaler, block MetricBlock, registerVals []uint16) (map[string]interface{}, error) {

	bytes := registersToBytes(registerVals)

	metricVals := make(map[string]interface{}, len(block.Metrics))
	for key, register := range block.Metrics {

		// sanity check the modbus register configuration to avoid out of bound panics
		offset := (int(register.StartAddr) - int(block.StartAddr)) * 2 // registers are two bytes long
		if offset < 0 {
			return nil, fmt.Errorf("register configuration for `%s` preceeds block", key)
		}
		if offset+int(register.DataType.dataLength) > len(bytes) {
			return nil, fmt.Errorf("register configuration for '%s' exceeds block", key)
		}

		// grab the relevant bytes for this metric from the block of bytes
		registerBytes := bytes[offset:(offset + int(register.DataType.dataLength))]

		metricVal := register.DataType.fromBytesFunc(registerBytes)

		// scale the value as required by the products modbus specification
		if register.ScalingFunc != nil {
			metricVal = register.ScalingFunc(scaler, metricVal)
		}

		metricVals[key] = metricVal
	}

	return metricVals, nil
}

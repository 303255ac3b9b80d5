package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goliatone/go-config/cfgx"
)

// Config holds all settings required to start the facilitator.
// Use Validate to fill implicit defaults and to check for required fields.
type Config struct {
	// Network selects the target chain (chain ID and x402 network name).
	Network Network `json:"network" yaml:"network" mapstructure:"network"`
	// RPCAddr is the Ethereum RPC/WS endpoint URL (required).
	RPCAddr string `json:"rpc_addr" yaml:"rpc_addr" mapstructure:"rpc_addr"`
	// PrivateKey is the hex-encoded ECDSA key of the facilitator operator
	// account. A leading "0x" is accepted.
	PrivateKey string `json:"private_key" yaml:"private_key" mapstructure:"private_key"`
	// Port is the HTTP listening port. Default: 4020.
	Port int `json:"port" yaml:"port" mapstructure:"port"`
	// AllowedOrigins lists the CORS origins allowed to call the HTTP API.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// HealthAddr is the listen address of the gRPC health service.
	// Empty disables it.
	HealthAddr string `json:"health_addr" yaml:"health_addr" mapstructure:"health_addr"`
	// Contracts holds token and Superfluid addresses for the target chain.
	Contracts Contracts `json:"contracts" yaml:"contracts" mapstructure:"contracts"`
	// Fee configures the facilitator fee policy.
	Fee Fee `json:"fee" yaml:"fee" mapstructure:"fee"`
	// Debug enables verbose logging.
	Debug bool `json:"debug" yaml:"debug" mapstructure:"debug"`
	// Timeouts configures per-operation timeouts. See Timeouts.WithDefaults for defaults.
	Timeouts Timeouts `json:"timeouts" yaml:"timeouts" mapstructure:"timeouts"`
}

// Network describes a blockchain network. ChainID is used for EIP-155
// signing and the EIP-712 domain; Name is the x402 network identifier.
type Network struct {
	ChainID int64  `json:"chain_id" mapstructure:"chain_id"`
	Name    string `json:"network_name" mapstructure:"network_name"`
}

// Base is the predefined Network for Base mainnet.
var Base = Network{
	ChainID: 8453,
	Name:    "base",
}

// BaseSepolia is the predefined Network for the Base Sepolia testnet.
// It has no default contracts; every address must be configured.
var BaseSepolia = Network{
	ChainID: 84532,
	Name:    "base-sepolia",
}

var knownNetworks = map[string]Network{
	Base.Name:        Base,
	BaseSepolia.Name: BaseSepolia,
}

// Token describes an ERC-20 token used by the facilitator.
type Token struct {
	Symbol   string `json:"symbol" mapstructure:"symbol"`
	Address  string `json:"address" mapstructure:"address"`
	Decimals int    `json:"decimals" mapstructure:"decimals"`
	// Name and Version form the EIP-712 domain of EIP-3009 tokens.
	Name    string `json:"name,omitempty" mapstructure:"name"`
	Version string `json:"version,omitempty" mapstructure:"version"`
}

// Contracts groups the on-chain addresses the facilitator talks to.
type Contracts struct {
	UnderlyingToken Token  `json:"underlying_token" mapstructure:"underlying_token"`
	SuperToken      Token  `json:"super_token" mapstructure:"super_token"`
	CFA             string `json:"cfa" mapstructure:"cfa"`
	CFAForwarder    string `json:"cfa_forwarder" mapstructure:"cfa_forwarder"`
}

// BaseContracts are the USDC / USDCx and Superfluid CFA deployments on Base.
var BaseContracts = Contracts{
	UnderlyingToken: Token{
		Symbol:   "USDC",
		Address:  "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
		Decimals: 6,
		Name:     "USD Coin",
		Version:  "2",
	},
	SuperToken: Token{
		Symbol:   "USDCx",
		Address:  "0xd04383398dd2426297da660f9cca3d439af9ce1b",
		Decimals: 18,
	},
	CFA:          "0x19ba78B9cDB05A877718841c574325fdB53601bb",
	CFAForwarder: "0xcfA132E353cB4E398080B9700609bb008eceB125",
}

// Fee holds the fee policy parameters: fee = max(MinFee, amount*Percent/Divisor).
type Fee struct {
	MinFee  int64 `json:"min_fee" mapstructure:"min_fee"`
	Divisor int64 `json:"divisor" mapstructure:"divisor"`
	Percent int64 `json:"percent" mapstructure:"percent"`
}

// DefaultFee is max(0.1 USDC, 0.1%).
var DefaultFee = Fee{
	MinFee:  100000,
	Divisor: 1000,
	Percent: 1,
}

// Timeouts controls facilitator operation deadlines.
// Zero values will be replaced by sane defaults in WithDefaults.
type Timeouts struct {
	Dial        time.Duration `mapstructure:"dial"`         // Web3 dial/connect
	ChainRead   time.Duration `mapstructure:"chain_read"`   // eth_call, balance etc
	ChainSubmit time.Duration `mapstructure:"chain_submit"` // send tx
	ReceiptWait time.Duration `mapstructure:"receipt_wait"` // wait tx
	HTTPRead    time.Duration `mapstructure:"http_read"`    // inbound request read
	HTTPWrite   time.Duration `mapstructure:"http_write"`   // inbound response write, covers the pipeline
	Shutdown    time.Duration `mapstructure:"shutdown"`     // graceful server shutdown
}

// defaultOrigins mirrors the local dev servers of the web clients.
var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// Default returns the Base mainnet configuration with every optional field
// set. RPCAddr and PrivateKey stay empty.
func Default() Config {
	return Config{
		Network:        Base,
		Contracts:      BaseContracts,
		Fee:            DefaultFee,
		Port:           4020,
		AllowedOrigins: append([]string(nil), defaultOrigins...),
		Timeouts:       Timeouts{}.WithDefaults(),
	}
}

// Validate normalizes the configuration by applying implicit defaults for
// Network (Base), Contracts (Base only), Fee, Port and AllowedOrigins and
// verifies that RPCAddr and PrivateKey are provided and addresses are well
// formed. Networks other than Base must configure their own contracts.
func (c *Config) Validate() error {

	if c.Network == (Network{}) {
		c.Network = Base
	}

	if c.Network.Name == "" {
		return fmt.Errorf("network name is required for chain id %d", c.Network.ChainID)
	}

	if c.Network.ChainID <= 0 {
		return fmt.Errorf("invalid chain id %d for network %s", c.Network.ChainID, c.Network.Name)
	}

	if known, ok := knownNetworks[c.Network.Name]; ok && known.ChainID != c.Network.ChainID {
		return fmt.Errorf("network %s has chain id %d, got %d", known.Name, known.ChainID, c.Network.ChainID)
	}

	onBase := c.Network.ChainID == Base.ChainID
	if onBase && c.Contracts.UnderlyingToken.Address == "" && c.Contracts.SuperToken.Address == "" {
		c.Contracts = BaseContracts
	}

	if c.Fee == (Fee{}) {
		c.Fee = DefaultFee
	}

	if c.Port == 0 {
		c.Port = 4020
	}

	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = defaultOrigins
	}

	if c.RPCAddr == "" {
		return errors.New("RPC address is required")
	}

	if c.PrivateKey == "" {
		return errors.New("facilitator private key is required")
	}

	for name, addr := range map[string]string{
		"underlying token": c.Contracts.UnderlyingToken.Address,
		"super token":      c.Contracts.SuperToken.Address,
		"cfa":              c.Contracts.CFA,
		"cfa forwarder":    c.Contracts.CFAForwarder,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s address %q on network %s", name, addr, c.Network.Name)
		}
	}

	if !onBase && c.Contracts.sharesBaseDeployment() {
		return fmt.Errorf("network %s is configured with Base mainnet contract addresses", c.Network.Name)
	}

	if c.Contracts.SuperToken.Decimals < c.Contracts.UnderlyingToken.Decimals {
		return errors.New("super token decimals must not be lower than underlying decimals")
	}

	if c.Fee.Divisor <= 0 || c.Fee.Percent <= 0 || c.Fee.MinFee < 0 {
		return fmt.Errorf("invalid fee policy %+v", c.Fee)
	}

	return nil
}

// sharesBaseDeployment reports whether any address is a Base mainnet one.
func (c Contracts) sharesBaseDeployment() bool {
	pairs := [][2]string{
		{c.UnderlyingToken.Address, BaseContracts.UnderlyingToken.Address},
		{c.SuperToken.Address, BaseContracts.SuperToken.Address},
		{c.CFA, BaseContracts.CFA},
		{c.CFAForwarder, BaseContracts.CFAForwarder},
	}
	for _, p := range pairs {
		if strings.EqualFold(p[0], p[1]) {
			return true
		}
	}
	return false
}

// KeyHex returns the operator key without a "0x" prefix, as expected by
// go-ethereum's crypto.HexToECDSA.
func (c *Config) KeyHex() string {
	return strings.TrimPrefix(c.PrivateKey, "0x")
}

// ListenAddr returns the HTTP listen address for Port.
func (c *Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

// WithDefaults returns a copy of t with zero values replaced by defaults:
//
//	Dial:        5s
//	ChainRead:   12s
//	ChainSubmit: 25s
//	ReceiptWait: 90s
//	HTTPRead:    15s
//	HTTPWrite:   5m
//	Shutdown:    10s
func (t Timeouts) WithDefaults() Timeouts {
	tt := t
	if tt.Dial == 0 {
		tt.Dial = 5 * time.Second
	}
	if tt.ChainRead == 0 {
		tt.ChainRead = 12 * time.Second
	}
	if tt.ChainSubmit == 0 {
		tt.ChainSubmit = 25 * time.Second
	}
	if tt.ReceiptWait == 0 {
		tt.ReceiptWait = 90 * time.Second
	}
	if tt.HTTPRead == 0 {
		tt.HTTPRead = 15 * time.Second
	}
	if tt.HTTPWrite == 0 {
		tt.HTTPWrite = 5 * time.Minute
	}
	if tt.Shutdown == 0 {
		tt.Shutdown = 10 * time.Second
	}
	return tt
}

// envKeys maps environment variables onto config paths.
var envKeys = []struct {
	env  string
	path []string
}{
	{"BASE_RPC_URL", []string{"rpc_addr"}},
	{"FACILITATOR_PRIVATE_KEY", []string{"private_key"}},
	{"PORT", []string{"port"}},
	{"HEALTH_ADDR", []string{"health_addr"}},
	{"DEBUG", []string{"debug"}},
	{"CHAIN_ID", []string{"network", "chain_id"}},
	{"UNDERLYING_TOKEN", []string{"contracts", "underlying_token", "address"}},
	{"SUPER_TOKEN", []string{"contracts", "super_token", "address"}},
	{"CFA_ADDRESS", []string{"contracts", "cfa"}},
	{"CFA_FORWARDER", []string{"contracts", "cfa_forwarder"}},
	{"RECEIPT_TIMEOUT", []string{"timeouts", "receipt_wait"}},
}

// FromEnv builds a Config from the process environment. Recognized variables:
//
//	FACILITATOR_PRIVATE_KEY  operator key (required)
//	BASE_RPC_URL             RPC endpoint (required)
//	PORT                     HTTP port
//	ALLOWED_ORIGIN           comma separated CORS origins
//	NETWORK, CHAIN_ID        target network; CHAIN_ID alone is rejected
//	UNDERLYING_TOKEN, SUPER_TOKEN, CFA_ADDRESS, CFA_FORWARDER  address overrides,
//	                         required on networks other than base
//	HEALTH_ADDR              gRPC health listen address
//	RECEIPT_TIMEOUT          receipt wait, Go duration syntax
//	DEBUG                    verbose logging
//
// Values are decoded onto Default() and the result is validated.
func FromEnv() (*Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (*Config, error) {
	raw, err := rawFromEnv(lookup)
	if err != nil {
		return nil, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(Default()),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Timeouts = cfg.Timeouts.WithDefaults()
	return &cfg, nil
}

// rawFromEnv collects the set variables into the nested map cfgx decodes.
func rawFromEnv(lookup func(string) (string, bool)) (map[string]any, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	raw := map[string]any{}
	for _, k := range envKeys {
		if v := get(k.env); v != "" {
			setPath(raw, v, k.path...)
		}
	}

	if v := get("ALLOWED_ORIGIN"); v != "" {
		var origins []string
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		raw["allowed_origins"] = origins
	}

	switch name := get("NETWORK"); {
	case name != "":
		setPath(raw, name, "network", "network_name")
		if get("CHAIN_ID") == "" {
			known, ok := knownNetworks[name]
			if !ok {
				return nil, fmt.Errorf("unknown NETWORK %q without CHAIN_ID", name)
			}
			setPath(raw, known.ChainID, "network", "chain_id")
		}
	case get("CHAIN_ID") != "":
		// Do not inherit the default name for a foreign chain id.
		setPath(raw, "", "network", "network_name")
	}

	return raw, nil
}

func setPath(m map[string]any, v any, path ...string) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

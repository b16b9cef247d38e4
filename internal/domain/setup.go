package domain

// Setup is a named strategy variant (e.g., "donchian_breakout").
// Setups are registered at configuration time and immutable afterwards.
type Setup struct {
	ID            string
	AllowShort    bool    // whether the setup may produce short proposals
	StopATRMult   float64 // default stop distance in ATR units
	TargetATRMult float64 // default target distance in ATR units
}

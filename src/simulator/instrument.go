package simulator

type Instrument struct {
	ContractSize float64 `yaml:"contract_size"`
	MarginRate   float64 `yaml:"margin_rate"`
	FXRate       float64 `yaml:"fx_rate"`
}

// withDefaults treats unset fields as 1.
func (i Instrument) withDefaults() Instrument {
	if i.ContractSize <= 0 {
		i.ContractSize = 1
	}

	if i.MarginRate <= 0 {
		i.MarginRate = 1
	}

	if i.FXRate <= 0 {
		i.FXRate = 1
	}

	return i
}

// Notional is the account currency value of qty at price.
func (i Instrument) Notional(qty, price float64) float64 {
	return qty * price * i.ContractSize * i.FXRate
}

type Instruments map[string]Instrument

func (m Instruments) Get(symbol string) Instrument {
	return m[symbol].withDefaults()
}

package guard

// Connectivity holds the network status flags at the top of the lock order.
type Connectivity struct {
	mu   *Mutex
	wifi bool
	ntp  bool
	mqtt bool
}

// Status is a copy of the connectivity flags.
type Status struct {
	WiFi bool `json:"wifi"`
	NTP  bool `json:"ntp"`
	MQTT bool `json:"mqtt"`
}

func NewConnectivity() *Connectivity {
	return &Connectivity{mu: NewMutex(Network)}
}

// Status returns the current flags. On a lock timeout it reports everything down.
func (n *Connectivity) Status() Status {
	var s Status
	_ = n.mu.With(func() {
		s = Status{WiFi: n.wifi, NTP: n.ntp, MQTT: n.mqtt}
	})
	return s
}

func (n *Connectivity) SetWiFi(up bool) error { return n.mu.With(func() { n.wifi = up }) }
func (n *Connectivity) SetNTP(up bool) error  { return n.mu.With(func() { n.ntp = up }) }
func (n *Connectivity) SetMQTT(up bool) error { return n.mu.With(func() { n.mqtt = up }) }

package domain

// PublishOptions tune one publish request. Zero values mean "use the
// session's defaults".
type PublishOptions struct {
	MaxAudioBW  uint64
	MaxVideoBW  uint64
	MinVideoBW  uint64
	Simulcast   bool
	CreateOffer bool
	Scheme      string
	Metadata    map[string]any
}

// Clamp normalizes bandwidth figures against the session ceilings the
// controller reported at handshake time.
func (o *PublishOptions) Clamp(defaultVideoBW, maxVideoBW uint64) {
	if o.MaxVideoBW == 0 {
		o.MaxVideoBW = defaultVideoBW
	}
	if o.MaxVideoBW > maxVideoBW {
		o.MaxVideoBW = maxVideoBW
	}
	if o.MinVideoBW > defaultVideoBW {
		o.MinVideoBW = defaultVideoBW
	}
}

// SubscribeOptions tune one subscribe request.
type SubscribeOptions struct {
	Audio         bool
	Video         bool
	Data          bool
	MaxVideoBW    uint64
	SlideShowMode bool
	Metadata      map[string]any
}

// Restrict forces off any media kind the publisher never offered, so the
// request cannot ask for media that does not exist.
func (o *SubscribeOptions) Restrict(spec StreamSpec) {
	if !spec.Video && !spec.Screen {
		o.Video = false
	}
	if !spec.Audio {
		o.Audio = false
	}
}

// ClampVideo bounds the requested video bandwidth like PublishOptions.Clamp.
func (o *SubscribeOptions) ClampVideo(defaultVideoBW, maxVideoBW uint64) {
	if o.MaxVideoBW == 0 {
		o.MaxVideoBW = defaultVideoBW
	}
	if o.MaxVideoBW > maxVideoBW {
		o.MaxVideoBW = maxVideoBW
	}
}

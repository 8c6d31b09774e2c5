package notify

import "scenecraft/internal/config"

// FromConfig builds the sinks named in config; Noop when none are set.
func FromConfig(cfg config.NotifyConfig) (Sink, error) {
	var sinks Multi
	if cfg.NATSURL != "" {
		n, err := NewNATS(cfg.NATSURL, cfg.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, n)
	}
	if wh := NewWebhook(cfg.Webhooks); len(wh.hooks) > 0 {
		sinks = append(sinks, wh)
	}
	switch len(sinks) {
	case 0:
		return Noop{}, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}

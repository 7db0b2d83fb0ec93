// roomagent is a headless room client: it joins the room named by its
// credential token, optionally publishes a stream, subscribes to whatever
// the room offers and logs every event until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	rtcadapter "github.com/dkeye/roomlink/internal/adapters/rtc"
	signaladapter "github.com/dkeye/roomlink/internal/adapters/signal"
	"github.com/dkeye/roomlink/internal/config"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/events"
	"github.com/dkeye/roomlink/internal/room"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, lerr := zerolog.ParseLevel(cfg.LogLevel); lerr == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Token == "" {
		log.Fatal().Msg("no credential token configured")
	}

	r := room.New(room.Config{
		Token:         cfg.Token,
		Dial:          signaladapter.Dial,
		NewConnection: rtcadapter.New,
	})

	r.On(room.RoomConnected, func(e events.Event) {
		evt := e.(room.RoomEvent)
		log.Info().Str("room", string(r.RoomID())).Int("streams", len(evt.Streams)).Msg("room connected")
		for _, s := range evt.Streams {
			subscribe(r, cfg, s)
		}
		if cfg.Publish.Enabled {
			publish(r, cfg)
		}
	})
	r.On(room.RoomError, func(e events.Event) {
		log.Error().Str("message", e.(room.RoomEvent).Message).Msg("room error")
		cancel()
	})
	r.On(room.RoomDisconnected, func(e events.Event) {
		log.Info().Str("reason", e.(room.RoomEvent).Message).Msg("room disconnected")
		cancel()
	})
	r.On(room.StreamAdded, func(e events.Event) {
		s := e.(room.StreamEvent).Stream
		log.Info().Str("stream", string(s.ID())).Msg("stream added")
		subscribe(r, cfg, s)
	})
	r.On(room.StreamRemoved, func(e events.Event) {
		log.Info().Str("stream", string(e.(room.StreamEvent).Stream.ID())).Msg("stream removed")
	})
	r.On(room.StreamFailed, func(e events.Event) {
		evt := e.(room.StreamEvent)
		log.Warn().Str("stream", string(evt.Stream.ID())).Str("message", evt.Message).Msg("stream failed")
	})
	r.On(room.StreamData, func(e events.Event) {
		evt := e.(room.StreamEvent)
		log.Info().Str("stream", string(evt.Stream.ID())).RawJSON("data", evt.Msg).Msg("stream data")
	})
	r.On(room.BandwidthAlert, func(e events.Event) {
		evt := e.(room.StreamEvent)
		log.Warn().Str("stream", string(evt.Stream.ID())).Uint64("bandwidth", evt.Bandwidth).Msg("bandwidth alert")
	})

	r.Connect()

	if cfg.RunFor > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(cfg.RunFor):
			log.Info().Dur("run_for", cfg.RunFor).Msg("run window elapsed")
		}
	} else {
		<-ctx.Done()
	}

	if r.State() == domain.Connected {
		r.Disconnect()
	}
	log.Info().Msg("agent exited gracefully")
}

func subscribe(r *room.Room, cfg *config.Config, s *room.Stream) {
	if !cfg.Subscribe {
		return
	}
	spec := s.Spec()
	r.Subscribe(s, domain.SubscribeOptions{Audio: spec.Audio, Video: spec.Video, Data: spec.Data},
		func(ok bool, err error) {
			if err != nil {
				log.Error().Err(err).Str("stream", string(s.ID())).Msg("subscribe failed")
				return
			}
			log.Info().Str("stream", string(s.ID())).Msg("subscribe acknowledged")
		})
}

func publish(r *room.Room, cfg *config.Config) {
	spec := domain.StreamSpec{
		Data:       cfg.Publish.Data,
		URL:        cfg.Publish.URL,
		Audio:      cfg.Publish.URL != "",
		Video:      cfg.Publish.URL != "",
		Attributes: domain.Attributes{"agent": "roomagent"},
	}
	s := room.NewLocalStream(spec)
	r.Publish(s, domain.PublishOptions{MaxVideoBW: cfg.Publish.MaxVideoBW},
		func(id domain.StreamID, err error) {
			if err != nil {
				log.Error().Err(err).Msg("publish failed")
				return
			}
			log.Info().Str("stream", string(id)).Msg("publish acknowledged")
			if cfg.Publish.Data {
				s.SendData(map[string]string{"hello": "room"})
			}
		})
}

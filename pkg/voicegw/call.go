package voicegw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-aira/pkg/audioio"
	"github.com/teslashibe/go-aira/pkg/protocol"
)

// closeTimeout bounds the close handshake write.
const closeTimeout = time.Second

// frameConn is the part of a websocket connection a call uses. Both the
// fiber and gorilla connections satisfy it.
type frameConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// hangUp sends a normal closure before dropping the socket, so clients
// do not treat the end of a call as a lost connection.
func hangUp(conn frameConn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	conn.Close()
}

var errHangup = errors.New("voicegw: call ended by goodbye")

// call is the state of one voice socket.
type call struct {
	id      string
	conn    frameConn
	cfg     *Config
	stages  Pipeline
	metrics *Metrics
	logger  *slog.Logger

	history []Turn
	turns   int
}

// serve reads frames until the socket closes, the context is cancelled
// or the caller says goodbye.
func (c *call) serve(ctx context.Context) {
	c.logger.Info("call connected")
	defer func() {
		c.logger.Info("call disconnected", "turns", c.turns)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug("read ended", "error", err)
			return
		}

		f, err := protocol.ParseOutbound(data)
		if err != nil {
			c.metrics.FramesReceived.WithLabelValues("invalid").Inc()
			c.logger.Warn("bad frame", "error", err)
			if err := c.send(protocol.NewError(fmt.Sprintf("Invalid message: %v", err))); err != nil {
				return
			}
			continue
		}
		c.metrics.FramesReceived.WithLabelValues(string(f.Type)).Inc()

		switch f.Type {
		case protocol.TypePing:
			err = c.send(protocol.NewPong())
		case protocol.TypeAudio:
			err = c.turn(ctx, f)
		}
		if errors.Is(err, errHangup) {
			c.logger.Info("caller said goodbye")
			return
		}
		if err != nil {
			c.logger.Debug("write failed", "error", err)
			return
		}
	}
}

// turn runs one utterance through the pipeline. Stage failures become
// error frames; only write failures and goodbye are returned.
func (c *call) turn(ctx context.Context, f protocol.Frame) error {
	c.turns++
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TurnTimeout)
	defer cancel()

	audio, err := f.Audio()
	if err != nil {
		return c.fail(stageDecode, "Error processing audio: "+err.Error(), err)
	}
	c.metrics.AudioBytesReceived.Add(float64(len(audio)))

	var transcript string
	err = c.timed(stageTranscribe, func() (err error) {
		transcript, err = c.stages.Transcriber.Transcribe(ctx, audio, utteranceName(audio))
		return err
	})
	if err != nil {
		return c.fail(stageTranscribe, "Error processing audio: "+err.Error(), err)
	}
	c.logger.Debug("transcribed", "text", transcript)
	if err := c.send(protocol.NewTranscript(transcript)); err != nil {
		return err
	}

	if c.isGoodbye(transcript) {
		return c.goodbye(ctx)
	}

	messages := make([]Turn, 0, len(c.history)+1)
	messages = append(messages, c.history...)
	messages = append(messages, Turn{Role: RoleUser, Content: transcript})

	var reply string
	err = c.timed(stageChat, func() (err error) {
		reply, err = c.stages.Chatter.Chat(ctx, ChatRequest{
			SystemPrompt: c.cfg.SystemPrompt,
			Messages:     messages,
			Temperature:  c.cfg.Temperature,
			MaxTokens:    c.cfg.MaxTokens,
		})
		return err
	})
	if err != nil {
		return c.fail(stageChat, "Failed to generate response", err)
	}

	c.remember(Turn{Role: RoleUser, Content: transcript}, Turn{Role: RoleAssistant, Content: reply})
	if err := c.send(protocol.NewResponse(reply)); err != nil {
		return err
	}

	audio, err = c.synthesize(ctx, reply)
	if err != nil {
		return c.fail(stageSynthesize, "Error processing audio: "+err.Error(), err)
	}
	if err := c.sendAudio(audio); err != nil {
		return err
	}
	c.metrics.Turns.WithLabelValues(outcomeReply).Inc()
	return nil
}

// goodbye speaks the farewell and sends end. A synthesis failure still
// ends the call, without audio.
func (c *call) goodbye(ctx context.Context) error {
	c.metrics.Turns.WithLabelValues(outcomeGoodbye).Inc()
	if err := c.send(protocol.NewResponse(c.cfg.GoodbyeMessage)); err != nil {
		return err
	}

	audio, err := c.synthesize(ctx, c.cfg.GoodbyeMessage)
	if err != nil {
		c.metrics.StageErrors.WithLabelValues(stageSynthesize).Inc()
		c.logger.Warn("goodbye synthesis failed", "error", err)
	} else if err := c.sendAudio(audio); err != nil {
		return err
	}

	if err := c.send(protocol.NewEnd()); err != nil {
		return err
	}
	return errHangup
}

func (c *call) synthesize(ctx context.Context, text string) ([]byte, error) {
	var audio []byte
	err := c.timed(stageSynthesize, func() error {
		res, err := c.stages.Speech.Synthesize(ctx, text)
		if err != nil {
			return err
		}
		audio = res.Audio
		// Raw PCM carries no rate, so clients get a WAV container.
		if !audioio.IsWAV(audio) {
			if pcm, err := res.PCM(); err == nil {
				audio = audioio.EncodeWAV(pcm.Samples, pcm.SampleRate, pcm.Channels)
			}
		}
		return nil
	})
	return audio, err
}

func (c *call) isGoodbye(transcript string) bool {
	lower := strings.ToLower(transcript)
	for _, phrase := range c.cfg.GoodbyePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// remember appends to the history, keeping the newest HistoryLimit messages.
func (c *call) remember(turns ...Turn) {
	c.history = append(c.history, turns...)
	if over := len(c.history) - c.cfg.HistoryLimit; over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}
}

func (c *call) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.metrics.StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return err
}

// fail reports a stage failure to the client and keeps the call open.
func (c *call) fail(stage, message string, cause error) error {
	c.metrics.StageErrors.WithLabelValues(stage).Inc()
	c.metrics.Turns.WithLabelValues(outcomeError).Inc()
	c.logger.Warn("turn failed", "stage", stage, "error", cause)
	return c.send(protocol.NewError(message))
}

func (c *call) sendAudio(audio []byte) error {
	c.metrics.AudioBytesSent.Add(float64(len(audio)))
	return c.send(protocol.NewAudio(audio))
}

func (c *call) send(f protocol.Frame) error {
	data, err := f.Bytes()
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.metrics.FramesSent.WithLabelValues(string(f.Type)).Inc()
	return nil
}

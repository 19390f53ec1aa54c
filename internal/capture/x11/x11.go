//go:build linux || freebsd || openbsd || netbsd || dragonfly

package x11

import (
	"errors"
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

type atoms struct {
	clientList xproto.Atom
	wmName     xproto.Atom
	utf8       xproto.Atom
	wmPID      xproto.Atom
}

// xconn is a server backed by a live X connection.
type xconn struct {
	conn  *xgb.Conn
	setup *xproto.SetupInfo
	root  xproto.Window
	atoms atoms
}

// New connects to the X server named by $DISPLAY.
func New(opts ...Option) (*Backend, error) {
	c, err := dial()
	if err != nil {
		return nil, err
	}
	return newBackend(c, opts...), nil
}

func dial() (*xconn, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("x11: connect X server: %w", err)
	}
	setup := xproto.Setup(conn)
	if setup == nil {
		conn.Close()
		return nil, errors.New("x11: setup unavailable")
	}
	screen := setup.DefaultScreen(conn)
	if screen == nil {
		conn.Close()
		return nil, errors.New("x11: screen unavailable")
	}

	c := &xconn{conn: conn, setup: setup, root: screen.Root}
	for name, dst := range map[string]*xproto.Atom{
		"_NET_CLIENT_LIST": &c.atoms.clientList,
		"_NET_WM_NAME":     &c.atoms.wmName,
		"UTF8_STRING":      &c.atoms.utf8,
		"_NET_WM_PID":      &c.atoms.wmPID,
	} {
		a, err := c.intern(name)
		if err != nil {
			conn.Close()
			return nil, err
		}
		*dst = a
	}
	return c, nil
}

func (c *xconn) intern(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(c.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("x11: intern %s: %w", name, err)
	}
	return reply.Atom, nil
}

func (c *xconn) clientList() ([]xproto.Window, error) {
	reply, err := xproto.GetProperty(c.conn, false, c.root, c.atoms.clientList,
		xproto.AtomWindow, 0, 1<<16).Reply()
	if err != nil {
		return nil, fmt.Errorf("x11: read _NET_CLIENT_LIST: %w", err)
	}
	return windowList(reply.Value, reply.ValueLen), nil
}

func (c *xconn) title(w xproto.Window) string {
	if reply, err := xproto.GetProperty(c.conn, false, w, c.atoms.wmName,
		c.atoms.utf8, 0, 1024).Reply(); err == nil && len(reply.Value) > 0 {
		return string(reply.Value)
	}
	if reply, err := xproto.GetProperty(c.conn, false, w, xproto.AtomWmName,
		xproto.GetPropertyTypeAny, 0, 1024).Reply(); err == nil {
		return string(reply.Value)
	}
	return ""
}

func (c *xconn) pid(w xproto.Window) uint32 {
	reply, err := xproto.GetProperty(c.conn, false, w, c.atoms.wmPID,
		xproto.AtomCardinal, 0, 1).Reply()
	if err != nil {
		return 0
	}
	return cardinal(reply.Value, reply.ValueLen)
}

func (c *xconn) viewable(w xproto.Window) bool {
	attrs, err := xproto.GetWindowAttributes(c.conn, w).Reply()
	return err == nil && attrs.MapState == xproto.MapStateViewable
}

func (c *xconn) geometry(w xproto.Window) (geometry, error) {
	reply, err := xproto.GetGeometry(c.conn, xproto.Drawable(w)).Reply()
	if err != nil {
		return geometry{}, err
	}
	return geometry{
		Width:        reply.Width,
		Height:       reply.Height,
		Depth:        reply.Depth,
		BitsPerPixel: c.bitsPerPixel(reply.Depth),
	}, nil
}

func (c *xconn) image(w xproto.Window, width, height uint16) ([]byte, error) {
	reply, err := xproto.GetImage(c.conn, xproto.ImageFormatZPixmap, xproto.Drawable(w),
		0, 0, width, height, ^uint32(0)).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}

func (c *xconn) origin(w xproto.Window) (int32, int32) {
	pos, err := xproto.TranslateCoordinates(c.conn, w, c.root, 0, 0).Reply()
	if err != nil {
		return 0, 0
	}
	return int32(pos.DstX), int32(pos.DstY)
}

func (c *xconn) close() {
	c.conn.Close()
}

func (c *xconn) bitsPerPixel(depth byte) byte {
	for _, f := range c.setup.PixmapFormats {
		if f.Depth == depth {
			return f.BitsPerPixel
		}
	}
	return 0
}

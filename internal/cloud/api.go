package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Login authenticates with the stored account credentials and installs
// the issued tokens.
//
// Transport failures surface as the sentinel-coded response so the
// caller can start in offline mode; a definitive rejection is an error.
func (c *Client) Login(ctx context.Context) (*Response, error) {
	body := map[string]string{
		"phone":    c.cfg.Phone,
		"password": c.cfg.Password,
	}
	resp, err := c.post(ctx, "/account/login", body)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, nil
	}

	var info TokenInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return nil, fmt.Errorf("decoding login response: %w", err)
	}
	c.storeTokens(info, true)
	c.log.Info("cloud login succeeded", "house_no", c.houseNo)
	return resp, nil
}

// Refresh exchanges the refresh token for a new token pair. When the
// refresh token itself is rejected it falls back to a full login; if
// that is rejected too, ErrReauthRequired is returned.
func (c *Client) Refresh(ctx context.Context) error {
	c.tokenMu.RLock()
	refreshToken := c.refreshToken
	c.tokenMu.RUnlock()

	resp, err := c.put(ctx, "/account/token", map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return err
	}

	switch resp.Code {
	case CodeSuccess:
		var info TokenInfo
		if err := json.Unmarshal(resp.Data, &info); err != nil {
			return fmt.Errorf("decoding token response: %w", err)
		}
		c.storeTokens(info, true)
		return nil
	case CodeRefreshTokenError:
		loginResp, err := c.Login(ctx)
		if err != nil {
			return err
		}
		if loginResp.Code == CodeLoginError {
			return ErrReauthRequired
		}
		if !loginResp.OK() {
			return fmt.Errorf("%w: %s", ErrUnexpectedCode, loginResp.Code)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedCode, resp.Code)
	}
}

// authGet issues a GET and transparently refreshes the token once when
// the platform rejects it.
func (c *Client) authGet(ctx context.Context, path string, query url.Values) (*Response, error) {
	resp, err := c.get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	if resp.Code != CodeAccessTokenError {
		return resp, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c.get(ctx, path, query)
}

func (c *Client) houseQuery() url.Values {
	return url.Values{"houseNo": []string{c.houseNo}}
}

// decodeList unwraps one named array from a success envelope.
func decodeList[T any](resp *Response, field string) ([]T, error) {
	if !resp.OK() {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnexpectedCode, resp.Code, resp.Message)
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", field, err)
	}
	var out []T
	if raw, ok := payload[field]; ok {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decoding %s list: %w", field, err)
		}
	}
	return out, nil
}

// DiscoverDevices fetches every device in the house.
func (c *Client) DiscoverDevices(ctx context.Context) ([]DeviceInfo, error) {
	resp, err := c.authGet(ctx, "/device/infos", c.houseQuery())
	if err != nil {
		return nil, err
	}
	return decodeList[DeviceInfo](resp, "devices")
}

// DiscoverGroups fetches every device group in the house.
func (c *Client) DiscoverGroups(ctx context.Context) ([]GroupInfo, error) {
	resp, err := c.authGet(ctx, "/deviceGroup/infos", c.houseQuery())
	if err != nil {
		return nil, err
	}
	return decodeList[GroupInfo](resp, "deviceGroups")
}

// Floors fetches the house's floor list.
func (c *Client) Floors(ctx context.Context) ([]FloorInfo, error) {
	resp, err := c.authGet(ctx, "/floor/infos", c.houseQuery())
	if err != nil {
		return nil, err
	}
	return decodeList[FloorInfo](resp, "floors")
}

// Rooms fetches the house's room list.
func (c *Client) Rooms(ctx context.Context) ([]RoomInfo, error) {
	resp, err := c.authGet(ctx, "/room/infos", c.houseQuery())
	if err != nil {
		return nil, err
	}
	return decodeList[RoomInfo](resp, "rooms")
}

// Terminals fetches the house's terminal list.
func (c *Client) Terminals(ctx context.Context) ([]TerminalInfo, error) {
	resp, err := c.authGet(ctx, "/terminal/infos", c.houseQuery())
	if err != nil {
		return nil, err
	}
	return decodeList[TerminalInfo](resp, "terminals")
}

// Scenes fetches the house's scene list.
func (c *Client) Scenes(ctx context.Context) ([]SceneInfo, error) {
	resp, err := c.authGet(ctx, "/scene/infos", c.houseQuery())
	if err != nil {
		return nil, err
	}
	return decodeList[SceneInfo](resp, "scenes")
}

// ControlDevice sends attribute writes to one device via the cloud.
func (c *Client) ControlDevice(ctx context.Context, deviceNo string, commands []Command) (*Response, error) {
	return c.post(ctx, "/device/commandOperate", ControlRequest{
		DeviceNo: deviceNo,
		HouseNo:  c.houseNo,
		Commands: commands,
	})
}

// ControlGroup sends attribute writes to one device group via the cloud.
func (c *Client) ControlGroup(ctx context.Context, groupNo string, commands []Command) (*Response, error) {
	return c.post(ctx, "/deviceGroup/commandOperate", ControlRequest{
		DeviceGroupNo: groupNo,
		HouseNo:       c.houseNo,
		Commands:      commands,
	})
}

// ExecuteScene triggers a scene via the cloud.
func (c *Client) ExecuteScene(ctx context.Context, sceneNo string) (*Response, error) {
	return c.post(ctx, "/scene/execute", map[string]string{
		"sceneNo": sceneNo,
		"houseNo": c.houseNo,
	})
}

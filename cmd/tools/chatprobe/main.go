// Command chatprobe is an interactive websocket client for the chat endpoint.
// Plain lines are sent as chat messages; lines starting with "/" are actions:
//
//	/reset            reset the conversation
//	/state            print session state
//	/sulk N           set the sulking level
//	/voice ID         set the preferred voice
//	/role NAME        send the next messages with a role override
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
	"github.com/zhouzirui/xiaoyue/backend/internal/service/conversation"
)

type inboundFrame struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	UserState *chat.Prefs     `json:"user_state"`
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080", "服务地址")
	user := flag.String("user", "", "用户 ID，留空则走 cookie 或匿名身份")
	cookie := flag.String("cookie", "", "sessionid cookie 值")
	flag.Parse()

	target, err := url.Parse(*addr)
	if err != nil {
		log.Fatalf("地址无效: %v", err)
	}
	target.Path = "/ws/chat"
	if *user != "" {
		target.Path += "/" + url.PathEscape(*user)
	}

	header := http.Header{}
	if *cookie != "" {
		header.Set("Cookie", "sessionid="+*cookie)
	}

	conn, _, err := websocket.DefaultDialer.Dial(target.String(), header)
	if err != nil {
		log.Fatalf("连接失败: %v", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f inboundFrame
			if err := conn.ReadJSON(&f); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("[chatprobe] read error: %v", err)
				}
				return
			}
			printFrame(f)
		}
	}()

	var role *string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		req, nextRole, err := parseLine(line, role)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		role = nextRole
		if req == nil {
			continue
		}

		if err := conn.WriteJSON(req); err != nil {
			log.Fatalf("发送失败: %v", err)
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

// parseLine turns one input line into a request. A nil request with a nil
// error means the line only changed local state.
func parseLine(line string, role *string) (*conversation.Request, *string, error) {
	if !strings.HasPrefix(line, "/") {
		return &conversation.Request{Action: conversation.ActionChat, Message: line, UserRole: role}, role, nil
	}

	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "reset":
		return &conversation.Request{Action: conversation.ActionReset, UserRole: role}, role, nil
	case "state":
		return &conversation.Request{Action: conversation.ActionGetState}, role, nil
	case "sulk":
		level, err := strconv.Atoi(arg)
		if err != nil {
			return nil, role, fmt.Errorf("用法: /sulk N")
		}
		return &conversation.Request{Action: conversation.ActionSetSulking, Level: &level}, role, nil
	case "voice":
		if arg == "" {
			return nil, role, fmt.Errorf("用法: /voice ID")
		}
		return &conversation.Request{Action: conversation.ActionSetVoice, Voice: &arg}, role, nil
	case "role":
		if arg == "" {
			return nil, nil, nil
		}
		return nil, &arg, nil
	default:
		return nil, role, fmt.Errorf("未知命令: /%s", cmd)
	}
}

func printFrame(f inboundFrame) {
	switch f.Status {
	case conversation.StatusTyping:
		fmt.Println("…", f.Message)
	case conversation.StatusError:
		fmt.Println("[error]", f.Message)
	case conversation.StatusConnected:
		fmt.Println("[connected]", f.Message)
		if f.UserState != nil {
			fmt.Printf("  role=%s agent=%s sulking=%d voice=%s\n",
				f.UserState.UserRole, f.UserState.AgentRole, f.UserState.MoodLevel, f.UserState.PreferredVoice)
		}
	default:
		var reply chat.Reply
		if len(f.Data) > 0 && json.Unmarshal(f.Data, &reply) == nil && reply.ChineseContent != "" {
			fmt.Printf("%s\n  %s\n  %s\n  [%s/%s sulking=%d audio=%t]\n",
				reply.ChineseContent, reply.Pinyin, reply.VietnameseDisplay,
				reply.Emotion, reply.Action, reply.MoodLevel, reply.AudioBase64 != nil)
			return
		}
		if f.Message != "" {
			fmt.Println("[ok]", f.Message)
		}
		if len(f.Data) > 0 {
			fmt.Println(" ", string(f.Data))
		}
	}
}

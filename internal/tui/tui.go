package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"
	log "github.com/sirupsen/logrus"

	"github.com/Joseda-hg/taskchat/internal/assistant"
	"github.com/Joseda-hg/taskchat/internal/chat"
	"github.com/Joseda-hg/taskchat/internal/model"
	"github.com/Joseda-hg/taskchat/internal/tasks"
)

const (
	viewHeader    = "header"
	viewFooter    = "footer"
	viewPending   = "pending"
	viewDone      = "done"
	viewDetail    = "detail"
	viewChat      = "chat"
	viewChatInput = "chatInput"
	viewForm      = "form"
	viewHelp      = "help"
)

// ActionRunner applies task edits made through the form.
type ActionRunner interface {
	Execute(ctx context.Context, actions []assistant.Action) []assistant.Result
}

type UI struct {
	service *tasks.Service
	session *chat.Session
	actions ActionRunner
	logger  *log.Logger
	gui     *gocui.Gui

	mu sync.Mutex

	pending  []tasks.Node
	done     []tasks.Node
	progress map[int64]tasks.Progress
	messages []model.ChatMessage

	collapsed map[int64]bool

	selectedPending int
	selectedDone    int
	selectedChat    int
	focus           string

	form       *formState
	formEditor *formEditor
	chatActive bool
	helpActive bool
	status     string
}

type formState struct {
	taskID   int64
	parentID *int64
	fields   []formField
	index    int
}

type formEditor struct {
	ui *UI
}

func New(service *tasks.Service, session *chat.Session, actions ActionRunner, logger *log.Logger) *UI {
	if logger == nil {
		logger = log.StandardLogger()
	}
	ui := &UI{
		service:   service,
		session:   session,
		actions:   actions,
		logger:    logger,
		focus:     viewPending,
		collapsed: make(map[int64]bool),
	}
	ui.formEditor = &formEditor{ui: ui}
	return ui
}

// Run blocks until the user quits. Task and chat changes made elsewhere
// (web, MCP, the assistant) are redrawn as they arrive.
func (u *UI) Run(ctx context.Context) error {
	gui, err := gocui.NewGui(gocui.NewGuiOpts{OutputMode: gocui.OutputNormal})
	if err != nil {
		return err
	}
	defer gui.Close()

	u.gui = gui
	gui.Mouse = true
	gui.SetManagerFunc(u.layout)
	if err := u.bindKeys(gui); err != nil {
		return err
	}
	if err := u.loadTasks(); err != nil {
		return err
	}
	u.loadMessages()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	u.watch(ctx)

	if err := gui.MainLoop(); err != nil && !errors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

func (u *UI) watch(ctx context.Context) {
	taskUpdates, stopTasks := u.service.Subscribe()
	go func() {
		defer stopTasks()
		for {
			select {
			case <-ctx.Done():
				return
			case <-taskUpdates:
				u.post(func() { _ = u.loadTasks() })
			}
		}
	}()

	if u.session == nil {
		return
	}
	chatUpdates, stopChat := u.session.Subscribe()
	go func() {
		defer stopChat()
		for {
			select {
			case <-ctx.Done():
				return
			case <-chatUpdates:
				u.post(u.loadMessages)
			}
		}
	}()
}

// post runs fn on the gui loop, or inline when there is no gui.
func (u *UI) post(fn func()) {
	if u.gui == nil {
		u.mu.Lock()
		fn()
		u.mu.Unlock()
		return
	}
	u.gui.Update(func(*gocui.Gui) error {
		fn()
		return nil
	})
}

func (u *UI) bindKeys(gui *gocui.Gui) error {
	if err := gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, u.quit); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'q', gocui.ModNone, u.quit); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'r', gocui.ModNone, u.reload); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'a', gocui.ModNone, u.addTask); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 's', gocui.ModNone, u.addSubtask); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'e', gocui.ModNone, u.editTask); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'd', gocui.ModNone, u.deleteTask); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'x', gocui.ModNone, u.toggleDone); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'J', gocui.ModNone, u.shiftDown); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'K', gocui.ModNone, u.shiftUp); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'i', gocui.ModNone, u.startChat); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'R', gocui.ModNone, u.resendChat); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", '?', gocui.ModNone, u.toggleHelp); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", gocui.KeyTab, gocui.ModNone, u.switchFocus); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", '1', gocui.ModNone, u.focusPending); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", '2', gocui.ModNone, u.focusDone); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", '3', gocui.ModNone, u.focusDetail); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", '4', gocui.ModNone, u.focusChat); err != nil {
		return err
	}
	for _, name := range []string{viewPending, viewDone, viewChat} {
		if err := gui.SetKeybinding(name, gocui.KeyArrowDown, gocui.ModNone, u.moveDown); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, 'j', gocui.ModNone, u.moveDown); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, gocui.KeyArrowUp, gocui.ModNone, u.moveUp); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, 'k', gocui.ModNone, u.moveUp); err != nil {
			return err
		}
	}
	for _, name := range []string{viewPending, viewDone} {
		if err := gui.SetKeybinding(name, gocui.KeyEnter, gocui.ModNone, u.toggleCollapse); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, gocui.KeySpace, gocui.ModNone, u.toggleDone); err != nil {
			return err
		}
	}
	if err := gui.SetKeybinding(viewChat, gocui.KeyEnter, gocui.ModNone, u.startChat); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewChatInput, gocui.KeyEnter, gocui.ModNone, u.submitChat); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewChatInput, gocui.KeyEsc, gocui.ModNone, u.cancelChat); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyEnter, gocui.ModNone, u.submitFormNow); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyCtrlJ, gocui.ModNone, u.submitFormNow); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyTab, gocui.ModNone, u.nextFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyBacktab, gocui.ModNone, u.prevFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyArrowDown, gocui.ModNone, u.nextFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyArrowUp, gocui.ModNone, u.prevFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyEsc, gocui.ModNone, u.cancelForm); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewHelp, gocui.KeyEsc, gocui.ModNone, u.closeHelp); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewHelp, 'q', gocui.ModNone, u.closeHelp); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewHelp, '?', gocui.ModNone, u.closeHelp); err != nil {
		return err
	}
	for _, name := range []string{viewPending, viewDone, viewChat} {
		if err := gui.SetViewClickBinding(&gocui.ViewMouseBinding{ViewName: name, Key: gocui.MouseLeft, Handler: func(opts gocui.ViewMouseBindingOpts) error {
			return u.onListClick(gui, name, opts)
		}}); err != nil {
			return err
		}
	}
	return u.bindMouseScroll(gui)
}

func (u *UI) layout(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	if maxX <= 0 || maxY <= 0 {
		return nil
	}

	headerView, err := gui.SetView(viewHeader, 0, 0, maxX-1, 0, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	headerView.Frame = false
	headerView.Wrap = true
	headerView.FgColor = gocui.ColorDefault
	u.renderHeader(headerView)

	footerY1 := max(maxY-2, 1)
	footerY0 := max(footerY1-2, 1)
	footerView, err := gui.SetView(viewFooter, 0, footerY0, maxX-1, footerY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	footerView.Frame = false
	footerView.Wrap = true
	footerView.FgColor = gocui.ColorDefault | gocui.AttrDim
	footerView.BgColor = gocui.ColorDefault
	u.renderFooter(footerView)

	bodyTop := 1
	bodyBottom := footerY0 - 1
	if bodyBottom < bodyTop {
		return nil
	}

	layout := computeLayout(maxX, bodyBottom-bodyTop+1)
	leftX0 := 0
	leftX1 := leftX0 + layout.leftWidth - 1
	rightX0 := leftX1 + 1
	if rightX0 >= maxX {
		rightX0 = leftX1
	}
	rightX1 := maxX - 1

	pendingY0 := bodyTop
	pendingY1 := pendingY0 + layout.pendingHeight - 1
	doneY0 := pendingY1 + 1
	doneY1 := bodyBottom

	detailY0 := bodyTop
	detailY1 := detailY0 + layout.detailHeight - 1
	chatY0 := detailY1 + 1
	chatY1 := bodyBottom

	pendingView, err := gui.SetView(viewPending, leftX0, pendingY0, leftX1, pendingY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		pendingView.Title = "1 To do"
		pendingView.TitleColor = gocui.ColorRed
	}
	applyViewStyle(pendingView, u.focus == viewPending, true)
	u.renderTaskList(pendingView, u.pending, u.selectedPending, u.focus == viewPending)

	doneView, err := gui.SetView(viewDone, leftX0, doneY0, leftX1, doneY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		doneView.Title = "2 Done"
		doneView.TitleColor = gocui.ColorGreen
	}
	applyViewStyle(doneView, u.focus == viewDone, true)
	u.renderTaskList(doneView, u.done, u.selectedDone, u.focus == viewDone)

	detailView, err := gui.SetView(viewDetail, rightX0, detailY0, rightX1, detailY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		detailView.Title = "3 Task"
		detailView.Wrap = true
	}
	applyViewStyle(detailView, u.focus == viewDetail, false)
	u.renderDetail(detailView)

	chatView, err := gui.SetView(viewChat, rightX0, chatY0, rightX1, chatY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		chatView.Title = "4 Assistant"
		chatView.TitleColor = gocui.ColorMagenta
		chatView.Wrap = true
	}
	applyViewStyle(chatView, u.focus == viewChat, true)
	u.renderChat(chatView, u.focus == viewChat)

	_, _ = gui.SetViewOnTop(viewHeader)
	_, _ = gui.SetViewOnTop(viewFooter)

	if u.chatActive {
		if err := u.showChatInput(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewChatInput)
	}

	if u.form != nil {
		if err := u.showForm(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewForm)
	}

	if u.helpActive {
		if err := u.showHelp(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewHelp)
	}

	if gui.CurrentView() == nil {
		_, _ = gui.SetCurrentView(u.focus)
	}

	gui.Cursor = u.chatActive || u.form != nil

	return nil
}

type layout struct {
	leftWidth     int
	pendingHeight int
	doneHeight    int
	detailHeight  int
	chatHeight    int
}

func computeLayout(width, height int) layout {
	safeWidth := max(width-2, 20)
	safeHeight := max(height, 8)

	leftWidth := safeWidth / 2
	if leftWidth < 26 {
		leftWidth = 26
	}
	if leftWidth > safeWidth-18 {
		leftWidth = safeWidth / 2
	}

	pendingHeight := max(int(float64(safeHeight)*0.6), 4)
	doneHeight := safeHeight - pendingHeight
	if doneHeight < 3 {
		doneHeight = 3
		pendingHeight = max(safeHeight-doneHeight, 4)
	}

	detailHeight := max(int(float64(safeHeight)*0.35), 4)
	chatHeight := safeHeight - detailHeight
	if chatHeight < 4 {
		chatHeight = 4
		detailHeight = max(safeHeight-chatHeight, 3)
	}

	return layout{
		leftWidth:     leftWidth,
		pendingHeight: pendingHeight,
		doneHeight:    doneHeight,
		detailHeight:  detailHeight,
		chatHeight:    chatHeight,
	}
}

// loadTasks rebuilds both task lists from the service projection.
func (u *UI) loadTasks() error {
	views := u.service.Views()
	u.pending = tasks.Tree(views.Unfinished, u.collapsed)
	u.done = tasks.Tree(views.Finished, u.collapsed)
	u.progress = views.Progress

	if u.selectedPending >= len(u.pending) {
		u.selectedPending = max(len(u.pending)-1, 0)
	}
	if u.selectedDone >= len(u.done) {
		u.selectedDone = max(len(u.done)-1, 0)
	}
	return nil
}

func (u *UI) loadMessages() {
	if u.session == nil {
		return
	}
	u.messages = u.session.Messages()
	if u.selectedChat >= len(u.messages) || u.focus != viewChat {
		u.selectedChat = max(len(u.messages)-1, 0)
	}
}

func (u *UI) renderHeader(view *gocui.View) {
	view.Clear()
	total := len(u.pending) + len(u.done)
	assistantLabel := "off"
	if u.session != nil {
		assistantLabel = fmt.Sprintf("%d messages", len(u.messages))
	}
	fmt.Fprintf(view, "Tasks: %d open, %d done (%d shown) | Assistant: %s", len(u.pending), len(u.done), total, assistantLabel)
}

func (u *UI) renderFooter(view *gocui.View) {
	view.Clear()
	view.SetOrigin(0, 0)
	view.SetCursor(0, 0)

	fmt.Fprintln(view, "a add | s subtask | e edit | d delete | x/space done | J/K reorder | enter collapse")
	fmt.Fprintln(view, "i ask assistant | R resend | r reload | tab cycle | 1-4 panes | ? help | q quit")
	if u.status != "" {
		fmt.Fprint(view, u.status)
	}
}

func (u *UI) renderTaskList(view *gocui.View, nodes []tasks.Node, selected int, focused bool) {
	view.Clear()
	for i, node := range nodes {
		prefix := " "
		if i == selected {
			if focused {
				prefix = ">"
			} else {
				prefix = "*"
			}
		}

		marker := " "
		if node.HasChildren {
			if u.collapsed[node.Task.ID] {
				marker = "+"
			} else {
				marker = "-"
			}
		}

		fmt.Fprintf(view, "%s %s%s %s\n", prefix, strings.Repeat("  ", node.Depth), marker, formatTaskSummary(node.Task, u.progress[node.Task.ID]))
	}
	if focused {
		view.SetCursor(0, min(selected, len(nodes)-1))
	}
}

func (u *UI) renderDetail(view *gocui.View) {
	view.Clear()
	selected := u.selectedTask()
	if selected == nil {
		fmt.Fprint(view, "No task selected")
		return
	}

	lines := []string{
		selected.Title,
		fmt.Sprintf("Status: %s", selected.Status),
		fmt.Sprintf("Priority: %s", selected.Priority),
		fmt.Sprintf("Due: %s", formatDue(selected.DueAt)),
		fmt.Sprintf("Created: %s", selected.CreatedAt.Local().Format("2006-01-02 15:04")),
	}
	if progress, ok := u.progress[selected.ID]; ok {
		lines = append(lines, fmt.Sprintf("Subtasks: %d/%d done", progress.Done, progress.Total))
	}
	if notes := strings.TrimSpace(selected.Content); notes != "" {
		lines = append(lines, "", notes)
	}
	fmt.Fprint(view, strings.Join(lines, "\n"))
}

func (u *UI) renderChat(view *gocui.View, focused bool) {
	view.Clear()
	if u.session == nil {
		fmt.Fprint(view, "Assistant disabled")
		return
	}
	if len(u.messages) == 0 {
		fmt.Fprint(view, "Press i to ask the assistant to plan or change your tasks")
		return
	}
	for index, message := range u.messages {
		prefix := " "
		if focused && index == u.selectedChat {
			prefix = ">"
		}
		fmt.Fprintf(view, "%s %s\n", prefix, formatMessage(message))
	}
	if focused {
		view.SetCursor(0, min(u.selectedChat, len(u.messages)-1))
	}
}

func (u *UI) onListClick(gui *gocui.Gui, viewName string, opts gocui.ViewMouseBindingOpts) error {
	if u.inputActive() {
		return nil
	}
	view, err := gui.View(viewName)
	if err != nil {
		return nil
	}

	_, y0, _, _ := view.Dimensions()
	_, oy := view.Origin()
	row := max(opts.Y-y0-1+oy, 0)

	switch viewName {
	case viewPending:
		u.selectedPending = min(row, len(u.pending)-1)
	case viewDone:
		u.selectedDone = min(row, len(u.done)-1)
	case viewChat:
		u.selectedChat = min(row, len(u.messages)-1)
	default:
		return nil
	}
	return u.setFocus(gui, viewName)
}

func (u *UI) bindMouseScroll(gui *gocui.Gui) error {
	for _, name := range []string{viewPending, viewDone, viewDetail, viewChat} {
		if err := gui.SetKeybinding(name, gocui.MouseWheelUp, gocui.ModNone, u.scrollUp); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, gocui.MouseWheelDown, gocui.ModNone, u.scrollDown); err != nil {
			return err
		}
	}
	return nil
}

func (u *UI) scrollUp(gui *gocui.Gui, view *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	if view == nil {
		view = gui.CurrentView()
	}
	if view != nil {
		view.ScrollUp(1)
	}
	return nil
}

func (u *UI) scrollDown(gui *gocui.Gui, view *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	if view == nil {
		view = gui.CurrentView()
	}
	if view != nil {
		view.ScrollDown(1)
	}
	return nil
}

func (u *UI) selectedTask() *model.Task {
	node := u.selectedNode()
	if node == nil {
		return nil
	}
	return &node.Task
}

func (u *UI) selectedNode() *tasks.Node {
	switch u.focus {
	case viewDone:
		if u.selectedDone >= 0 && u.selectedDone < len(u.done) {
			return &u.done[u.selectedDone]
		}
	default:
		if u.selectedPending >= 0 && u.selectedPending < len(u.pending) {
			return &u.pending[u.selectedPending]
		}
	}
	return nil
}

func (u *UI) switchFocus(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	switch u.focus {
	case viewPending:
		return u.setFocus(gui, viewDone)
	case viewDone:
		return u.setFocus(gui, viewChat)
	default:
		return u.setFocus(gui, viewPending)
	}
}

func (u *UI) focusPending(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewPending)
}

func (u *UI) focusDone(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewDone)
}

func (u *UI) focusDetail(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewDetail)
}

func (u *UI) focusChat(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewChat)
}

func (u *UI) setFocus(gui *gocui.Gui, name string) error {
	if u.inputActive() {
		return nil
	}
	u.focus = name
	if gui != nil {
		_, _ = gui.SetCurrentView(name)
	}
	return nil
}

func (u *UI) moveDown(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	switch u.focus {
	case viewDone:
		if u.selectedDone < len(u.done)-1 {
			u.selectedDone++
		}
	case viewPending:
		if u.selectedPending < len(u.pending)-1 {
			u.selectedPending++
		}
	case viewChat:
		if u.selectedChat < len(u.messages)-1 {
			u.selectedChat++
		}
	}
	return nil
}

func (u *UI) moveUp(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	switch u.focus {
	case viewDone:
		if u.selectedDone > 0 {
			u.selectedDone--
		}
	case viewPending:
		if u.selectedPending > 0 {
			u.selectedPending--
		}
	case viewChat:
		if u.selectedChat > 0 {
			u.selectedChat--
		}
	}
	return nil
}

func (u *UI) reload(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.status = ""
	u.loadMessages()
	return u.loadTasks()
}

func (u *UI) toggleHelp(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() && !u.helpActive {
		return nil
	}
	u.helpActive = !u.helpActive
	return nil
}

func (u *UI) closeHelp(gui *gocui.Gui, _ *gocui.View) error {
	u.helpActive = false
	if gui != nil {
		_ = gui.DeleteView(viewHelp)
		_, _ = gui.SetCurrentView(u.focus)
	}
	return nil
}

func (u *UI) showHelp(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := max(60, maxX/2)
	height := 16
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2

	view, err := gui.SetView(viewHelp, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Title = "Help"
		view.Wrap = true
	}
	view.Clear()
	fmt.Fprint(view, helpText())
	_, _ = gui.SetCurrentView(viewHelp)
	return nil
}

func (u *UI) startChat(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.session == nil {
		return nil
	}
	u.chatActive = true
	return nil
}

func (u *UI) showChatInput(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := max(40, maxX/2)
	height := 3
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2

	view, err := gui.SetView(viewChatInput, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Title = "Ask the assistant"
		view.Wrap = true
		view.Clear()
	}
	view.Editable = true
	view.Editor = gocui.DefaultEditor
	_, _ = gui.SetCurrentView(viewChatInput)
	return nil
}

func (u *UI) submitChat(gui *gocui.Gui, view *gocui.View) error {
	if !u.chatActive {
		return nil
	}
	text := ""
	if view != nil {
		text = strings.TrimSpace(view.Buffer())
	}
	u.closeChatInput(gui)
	if text == "" {
		return nil
	}
	u.status = ""
	u.focus = viewChat
	go u.send(text)
	return nil
}

func (u *UI) send(text string) {
	if _, err := u.session.Send(context.Background(), text); err != nil {
		u.logger.WithError(err).Debug("chat send failed")
	}
}

func (u *UI) cancelChat(gui *gocui.Gui, _ *gocui.View) error {
	u.closeChatInput(gui)
	return nil
}

func (u *UI) closeChatInput(gui *gocui.Gui) {
	u.chatActive = false
	if gui != nil {
		_ = gui.DeleteView(viewChatInput)
		_, _ = gui.SetCurrentView(u.focus)
	}
}

// resendChat retries the selected failed message, or the latest one when
// the selection is not a failed user message.
func (u *UI) resendChat(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.session == nil {
		return nil
	}
	target := ""
	if u.focus == viewChat && u.selectedChat >= 0 && u.selectedChat < len(u.messages) {
		if message := u.messages[u.selectedChat]; resendable(message) {
			target = message.ID
		}
	}
	if target == "" {
		for i := len(u.messages) - 1; i >= 0; i-- {
			if resendable(u.messages[i]) {
				target = u.messages[i].ID
				break
			}
		}
	}
	if target == "" {
		u.status = "Nothing to resend"
		return nil
	}
	u.status = ""
	go func() {
		if _, err := u.session.Resend(context.Background(), target); err != nil {
			u.logger.WithError(err).Debug("chat resend failed")
		}
	}()
	return nil
}

func resendable(message model.ChatMessage) bool {
	return message.Sender == model.SenderUser && message.Status == model.MessageFailed
}

func (u *UI) addTask(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.form = &formState{fields: buildFormFields(nil)}
	return nil
}

func (u *UI) addSubtask(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	fields := buildFormFields(nil)
	fields[fieldPriority].Value = string(selected.Priority)
	parentID := selected.ID
	u.form = &formState{fields: fields, parentID: &parentID}
	return nil
}

func (u *UI) editTask(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	u.form = &formState{taskID: selected.ID, fields: buildFormFields(selected)}
	return nil
}

func (u *UI) showForm(gui *gocui.Gui) error {
	if u.form == nil {
		return nil
	}

	maxX, maxY := gui.Size()
	width := max(60, maxX/2)
	height := min(10, max(7, maxY/2))
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2

	view, err := gui.SetView(viewForm, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Wrap = true
	}
	switch {
	case u.form.taskID != 0:
		view.Title = "Edit Task"
	case u.form.parentID != nil:
		view.Title = "New Subtask"
	default:
		view.Title = "New Task"
	}
	view.Editable = true
	view.KeybindOnEdit = true
	view.Editor = u.formEditor
	u.renderForm(view)
	_, _ = gui.SetCurrentView(viewForm)
	return nil
}

func (u *UI) submitFormNow(gui *gocui.Gui, _ *gocui.View) error {
	if u.form == nil {
		return nil
	}

	action, err := formAction(u.form)
	if err != nil {
		u.status = err.Error()
		return nil
	}
	results := u.actions.Execute(context.Background(), []assistant.Action{action})
	if len(results) == 1 && results[0].Outcome != assistant.OutcomeApplied {
		u.status = describeResult(results[0])
		return nil
	}

	u.form = nil
	u.status = ""
	if gui != nil {
		_ = gui.DeleteView(viewForm)
		_, _ = gui.SetCurrentView(u.focus)
	}
	return nil
}

func (u *UI) cancelForm(gui *gocui.Gui, _ *gocui.View) error {
	u.form = nil
	if gui != nil {
		_ = gui.DeleteView(viewForm)
		_, _ = gui.SetCurrentView(u.focus)
	}
	return nil
}

func (u *UI) nextFormField(gui *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index < len(u.form.fields)-1 {
		u.form.index++
	}
	u.renderForm(view)
	return nil
}

func (u *UI) prevFormField(gui *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index > 0 {
		u.form.index--
	}
	u.renderForm(view)
	return nil
}

func (u *UI) renderForm(view *gocui.View) {
	if u.form == nil || view == nil {
		return
	}
	view.Clear()
	for index, field := range u.form.fields {
		prefix := "  "
		if index == u.form.index {
			prefix = "> "
		}
		fmt.Fprintf(view, "%s%s: %s\n", prefix, field.Label, field.Value)
	}
	current := u.form.fields[u.form.index]
	cursorX := len([]rune(current.Label+": ")) + len([]rune(current.Value)) + 2
	view.SetCursor(cursorX, u.form.index)
}

func (e *formEditor) Edit(view *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) bool {
	ui := e.ui
	if ui == nil || ui.form == nil || view == nil {
		return false
	}
	field := &ui.form.fields[ui.form.index]

	if isPriorityField(field.Label) {
		switch key {
		case gocui.KeyArrowRight, gocui.KeySpace:
			field.Value = cyclePriority(field.Value, 1)
		case gocui.KeyArrowLeft:
			field.Value = cyclePriority(field.Value, -1)
		}
		ui.renderForm(view)
		return true
	}

	switch key {
	case gocui.KeyBackspace, gocui.KeyBackspace2:
		runes := []rune(field.Value)
		if len(runes) > 0 {
			field.Value = string(runes[:len(runes)-1])
		}
	case gocui.KeySpace:
		field.Value += " "
	case gocui.KeyCtrlU:
		field.Value = ""
	}

	if ch != 0 && ch != '\n' && ch != '\r' && mod == 0 {
		field.Value += string(ch)
	}

	ui.renderForm(view)
	return true
}

func (u *UI) deleteTask(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	if err := u.service.Delete(context.Background(), selected.ID); err != nil {
		u.status = err.Error()
		return nil
	}
	u.status = ""
	return nil
}

func (u *UI) toggleCollapse(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	node := u.selectedNode()
	if node == nil || !node.HasChildren {
		return nil
	}
	u.collapsed[node.Task.ID] = !u.collapsed[node.Task.ID]
	return u.loadTasks()
}

// toggleDone flips the selected task immediately. If the change is not
// confirmed the store reverts it and the footer says so.
func (u *UI) toggleDone(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	id, title := selected.ID, selected.Title
	confirmed, err := u.service.ToggleStatus(context.Background(), id)
	if err != nil {
		u.status = err.Error()
		return nil
	}
	u.status = ""
	go func() {
		if err := <-confirmed; err != nil {
			u.post(func() {
				u.status = fmt.Sprintf("Couldn't sync %q, change reverted", title)
			})
		}
	}()
	return nil
}

func (u *UI) shiftUp(gui *gocui.Gui, _ *gocui.View) error {
	return u.shift(-1)
}

func (u *UI) shiftDown(gui *gocui.Gui, _ *gocui.View) error {
	return u.shift(1)
}

func (u *UI) shift(delta int) error {
	if u.inputActive() {
		return nil
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	if err := u.service.Shift(context.Background(), selected.ID, delta); err != nil {
		u.status = err.Error()
		return nil
	}
	u.status = ""
	return nil
}

func (u *UI) inputActive() bool {
	return u.chatActive || u.form != nil || u.helpActive
}

func (u *UI) quit(_ *gocui.Gui, _ *gocui.View) error {
	return gocui.ErrQuit
}

func helpText() string {
	return strings.Join([]string{
		"Navigation:",
		"  Tab cycle panes (to do/done/assistant)",
		"  1 To do | 2 Done | 3 Task | 4 Assistant",
		"  j/k or arrows move selection",
		"  mouse click to focus/select, wheel to scroll",
		"",
		"Tasks:",
		"  a add task | s add subtask | e edit task | d delete task",
		"  x or space toggle done | J/K move down/up among siblings",
		"  enter collapse/expand (lists) | enter save (form) | tab next field",
		"  space/left/right cycle priority (form)",
		"",
		"Assistant:",
		"  i ask | R resend a failed message",
		"",
		"Other:",
		"  r reload | ? help | esc/q close help | q quit",
	}, "\n")
}

func applyViewStyle(view *gocui.View, focused bool, highlight bool) {
	view.Frame = true
	view.Highlight = focused && highlight
	view.HighlightInactive = false
	view.SelBgColor = gocui.ColorBlue
	view.SelFgColor = gocui.ColorBlack
	view.InactiveViewSelBgColor = gocui.ColorDefault
	if focused {
		view.FrameColor = gocui.ColorCyan
		view.TitleColor = gocui.ColorCyan
	} else {
		view.FrameColor = gocui.ColorDefault
	}
}

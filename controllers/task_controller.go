package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"leadflow/events"
	"leadflow/models"
	"leadflow/nurturing"
	"leadflow/store"
	"leadflow/utils"
)

type TaskController struct {
	store     store.Store
	publisher nurturing.Publisher
}

func NewTaskController(st store.Store, publisher nurturing.Publisher) *TaskController {
	return &TaskController{store: st, publisher: publisher}
}

// GetTasks lists tasks, pending by default. status=all lists every task.
func (tc *TaskController) GetTasks(c *fiber.Ctx) error {
	status := models.TaskStatus(c.Query("status", string(models.TaskPending)))
	if status == "all" {
		status = ""
	}
	tasks, err := tc.store.ListTasks(c.UserContext(), status)
	if err != nil {
		return storeError(c, err, "Failed to fetch tasks")
	}
	return c.JSON(utils.SuccessResponse(tasks))
}

func (tc *TaskController) CompleteTask(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return invalidID(c)
	}
	task, err := tc.store.CompleteTask(c.UserContext(), id, time.Now())
	if err != nil {
		return storeError(c, err, "Failed to complete task")
	}
	if tc.publisher != nil {
		tc.publisher.Publish(events.Event{Type: events.TaskCompleted, LeadID: task.LeadID, Data: task})
	}
	return c.JSON(utils.SuccessResponse(task))
}
